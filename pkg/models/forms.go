package models

import "go.mongodb.org/mongo-driver/v2/bson"

// KeyValueCommand is the validated data form of a key-value query.
type KeyValueCommand struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Limit   int      `json:"limit"`
}

// DocumentQuery is a find or aggregate against one collection. Pipeline set
// means aggregate. It is exchanged as relaxed extended JSON.
type DocumentQuery struct {
	Collection string   `bson:"collection"`
	Filter     bson.D   `bson:"filter,omitempty"`
	Projection bson.D   `bson:"projection,omitempty"`
	Sort       bson.D   `bson:"sort,omitempty"`
	Skip       int64    `bson:"skip,omitempty"`
	Limit      int64    `bson:"limit,omitempty"`
	Pipeline   []bson.D `bson:"pipeline,omitempty"`
}

// IsAggregate reports whether the query runs a pipeline.
func (q *DocumentQuery) IsAggregate() bool {
	return q.Pipeline != nil
}
