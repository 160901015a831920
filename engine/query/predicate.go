package query

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

var opToMongo = map[Op]string{
	OpEq:  "$eq",
	OpLt:  "$lt",
	OpLte: "$lte",
	OpGt:  "$gt",
	OpGte: "$gte",
}

// BuildFilter combines parsed predicates into a store filter. Within one
// field: equalities, greedily matched bounded intervals, and leftover
// unbounded inequalities are all alternatives (disjunction). Across fields
// the groups conjoin.
func BuildFilter(params []Param) bson.M {
	byField := make(map[string][]Param)
	var order []string
	for _, p := range params {
		if _, seen := byField[p.Field]; !seen {
			order = append(order, p.Field)
		}
		byField[p.Field] = append(byField[p.Field], p)
	}

	var conjuncts []bson.M
	for _, field := range order {
		conjuncts = append(conjuncts, fieldClause(field, byField[field]))
	}
	switch len(conjuncts) {
	case 0:
		return bson.M{}
	case 1:
		return conjuncts[0]
	default:
		return bson.M{"$and": conjuncts}
	}
}

func fieldClause(field string, params []Param) bson.M {
	var equalities []Param
	var lowers, uppers []Param
	for _, p := range params {
		switch p.Op {
		case OpEq:
			equalities = append(equalities, p)
		case OpGt, OpGte:
			lowers = append(lowers, p)
		case OpLt, OpLte:
			uppers = append(uppers, p)
		}
	}

	pairs, leftovers := matchBounds(lowers, uppers)

	var alternatives []bson.M
	for _, p := range equalities {
		alternatives = append(alternatives, bson.M{field: bson.M{"$eq": p.Value}})
	}
	for _, pair := range pairs {
		alternatives = append(alternatives, bson.M{"$and": []bson.M{
			{field: bson.M{opToMongo[pair.lower.Op]: pair.lower.Value}},
			{field: bson.M{opToMongo[pair.upper.Op]: pair.upper.Value}},
		}})
	}
	for _, p := range leftovers {
		alternatives = append(alternatives, bson.M{field: bson.M{opToMongo[p.Op]: p.Value}})
	}

	if len(alternatives) == 1 {
		return alternatives[0]
	}
	return bson.M{"$or": alternatives}
}

type boundPair struct {
	lower, upper Param
}

// matchBounds pairs lower and upper bounds greedily: both lists sorted by
// value, the smallest lower bound takes the smallest upper bound at or
// above it. Bounds that find no partner stay unbounded.
func matchBounds(lowers, uppers []Param) ([]boundPair, []Param) {
	sortByValue(lowers)
	sortByValue(uppers)

	var pairs []boundPair
	var leftovers []Param
	for len(lowers) > 0 && len(uppers) > 0 {
		lower := lowers[0]
		lowers = lowers[1:]

		matched := false
		for i, upper := range uppers {
			if compareValues(lower.Value, upper.Value) <= 0 {
				pairs = append(pairs, boundPair{lower: lower, upper: upper})
				uppers = append(uppers[:i], uppers[i+1:]...)
				matched = true
				break
			}
		}
		if !matched {
			leftovers = append(leftovers, lower)
		}
	}
	leftovers = append(leftovers, lowers...)
	leftovers = append(leftovers, uppers...)
	return pairs, leftovers
}

func sortByValue(params []Param) {
	sort.SliceStable(params, func(i, j int) bool {
		return compareValues(params[i].Value, params[j].Value) < 0
	})
}

// compareValues orders two cast values of the same rough kind. Values that
// cannot be compared are treated as equal.
func compareValues(a, b any) int {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			switch {
			case as < bs:
				return -1
			case as > bs:
				return 1
			default:
				return 0
			}
		}
	}
	return 0
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
