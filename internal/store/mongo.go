package store

// mongo recorder
//
// References : https://gist.github.com/boj/5412538
//              https://gist.github.com/border/3489566

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Brownie44l1/fer-recorder/internal/model"
	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"
)

// MongoRecorder stores records in MongoDB collection
type MongoRecorder struct {
	Session *mgo.Session
	DBName  string
	DBColl  string
}

// NewMongoRecorder provides connection to MongoDB
func NewMongoRecorder(opts Options) (*MongoRecorder, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	s, err := mgo.DialWithTimeout(opts.URI, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to connect to MongoDB: %v", ErrPersistence, err)
	}
	// a listing issued right after a write must see it
	s.SetMode(mgo.Strong, true)
	return &MongoRecorder{Session: s, DBName: opts.DBName, DBColl: opts.Collection}, nil
}

// mongoRecord is record with object id used to keep insertion order
type mongoRecord struct {
	ID     bson.ObjectId `bson:"_id"`
	Record `bson:",inline"`
}

// Record inserts prediction record into MongoDB
func (m *MongoRecorder) Record(ctx context.Context, p *model.Prediction) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s := m.Session.Clone()
	defer s.Close()
	c := s.DB(m.DBName).C(m.DBColl)
	rec := newRecord(p)
	if err := c.Insert(&mongoRecord{ID: bson.NewObjectId(), Record: rec}); err != nil {
		log.Printf("Fail to insert record %+v, error %v\n", rec, err)
		return rec, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return rec, nil
}

// Records gets all records from MongoDB sorted by object id
func (m *MongoRecorder) Records(ctx context.Context) ([]Record, error) {
	out := []Record{}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	s := m.Session.Clone()
	defer s.Close()
	c := s.DB(m.DBName).C(m.DBColl)
	err := c.Find(bson.M{}).Select(bson.M{"_id": 0}).Sort("_id").All(&out)
	if err != nil {
		log.Printf("Unable to get records, error %v\n", err)
		return out, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	for i := range out {
		out[i].Timestamp = out[i].Timestamp.UTC()
	}
	return out, nil
}

func (m *MongoRecorder) Close() error {
	m.Session.Close()
	return nil
}
