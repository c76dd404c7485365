package storage

// MangoQuery is a CouchDB Mango (declarative) query.
type MangoQuery struct {
	Selector map[string]interface{} `json:"selector"`
	Fields   []string               `json:"fields,omitempty"`
	Sort     []map[string]string    `json:"sort,omitempty"`
	Limit    int                    `json:"limit,omitempty"`
	Skip     int                    `json:"skip,omitempty"`
	UseIndex string                 `json:"use_index,omitempty"`
}

// QueryBuilder provides a fluent API for constructing Mango queries.
//
//	query := NewQueryBuilder().
//	    Where("@type", "eq", "access").
//	    Where("username", "eq", "alice").
//	    Sort("modified", "desc").
//	    Limit(100).
//	    Build()
type QueryBuilder struct {
	conditions []map[string]interface{}
	sortFields []map[string]string
	limitValue int
	skipValue  int
	useIndex   string
}

// NewQueryBuilder creates a new QueryBuilder instance.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// Where adds a condition. Supported operators: eq, ne, gt, gte, lt, lte,
// in, nin, exists, elem (element match on array fields). Conditions are
// combined with AND.
func (qb *QueryBuilder) Where(field, operator string, value interface{}) *QueryBuilder {
	var condition map[string]interface{}
	switch operator {
	case "eq", "=", "==":
		condition = map[string]interface{}{field: value}
	case "ne", "!=":
		condition = map[string]interface{}{field: map[string]interface{}{"$ne": value}}
	case "gt", ">":
		condition = map[string]interface{}{field: map[string]interface{}{"$gt": value}}
	case "gte", ">=":
		condition = map[string]interface{}{field: map[string]interface{}{"$gte": value}}
	case "lt", "<":
		condition = map[string]interface{}{field: map[string]interface{}{"$lt": value}}
	case "lte", "<=":
		condition = map[string]interface{}{field: map[string]interface{}{"$lte": value}}
	case "in":
		condition = map[string]interface{}{field: map[string]interface{}{"$in": value}}
	case "nin":
		condition = map[string]interface{}{field: map[string]interface{}{"$nin": value}}
	case "exists":
		condition = map[string]interface{}{field: map[string]interface{}{"$exists": value}}
	case "elem":
		condition = map[string]interface{}{field: map[string]interface{}{
			"$elemMatch": map[string]interface{}{"$eq": value},
		}}
	default:
		condition = map[string]interface{}{field: value}
	}
	qb.conditions = append(qb.conditions, condition)
	return qb
}

// WhereRaw adds a pre-built selector fragment, e.g. the Mango rendering of a
// StreamFilter.
func (qb *QueryBuilder) WhereRaw(condition map[string]interface{}) *QueryBuilder {
	if condition != nil {
		qb.conditions = append(qb.conditions, condition)
	}
	return qb
}

// Sort adds a sort specification ("asc" or "desc").
func (qb *QueryBuilder) Sort(field, direction string) *QueryBuilder {
	qb.sortFields = append(qb.sortFields, map[string]string{field: direction})
	return qb
}

// Limit caps the number of results.
func (qb *QueryBuilder) Limit(n int) *QueryBuilder {
	qb.limitValue = n
	return qb
}

// Skip offsets the results for pagination.
func (qb *QueryBuilder) Skip(n int) *QueryBuilder {
	qb.skipValue = n
	return qb
}

// UseIndex hints the index to use.
func (qb *QueryBuilder) UseIndex(name string) *QueryBuilder {
	qb.useIndex = name
	return qb
}

// Build assembles the final Mango query.
func (qb *QueryBuilder) Build() MangoQuery {
	selector := map[string]interface{}{}
	if len(qb.conditions) == 1 {
		selector = qb.conditions[0]
	} else if len(qb.conditions) > 1 {
		selector = map[string]interface{}{"$and": qb.conditions}
	}
	return MangoQuery{
		Selector: selector,
		Sort:     qb.sortFields,
		Limit:    qb.limitValue,
		Skip:     qb.skipValue,
		UseIndex: qb.useIndex,
	}
}
