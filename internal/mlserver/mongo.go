package mlserver

// mongo module
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet AT gmail dot com>
//
// References : https://gist.github.com/boj/5412538
//              https://gist.github.com/border/3489566

import (
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"
)

// MongoStore keeps records in MongoDB collection
type MongoStore struct {
	DBName  string
	DBColl  string
	Session *mgo.Session
}

// NewMongoStore connects to MongoDB
func NewMongoStore(uri, dbname, collname string) (*MongoStore, error) {
	s, err := mgo.Dial(uri)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to MongoDB")
	}
	s.SetMode(mgo.Strong, true)
	return &MongoStore{DBName: dbname, DBColl: collname, Session: s}, nil
}

// helper function to run given function with cloned session collection
func (m *MongoStore) with(f func(c *mgo.Collection) error) error {
	s := m.Session.Clone()
	defer s.Close()
	return f(s.DB(m.DBName).C(m.DBColl))
}

// Insert implements Store, existing record is replaced
func (m *MongoStore) Insert(rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	spec := bson.M{"project": rec.Project, "revision": rec.Revision, "name": rec.Name}
	return m.with(func(c *mgo.Collection) error {
		_, err := c.Upsert(spec, &rec)
		return errors.Wrapf(err, "unable to upsert record %s", rec.Name)
	})
}

// Revisions implements Store
func (m *MongoStore) Revisions(project string) ([]string, error) {
	var out []string
	err := m.with(func(c *mgo.Collection) error {
		return c.Find(bson.M{"project": project}).Distinct("revision", &out)
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to get revisions")
	}
	sort.Strings(out)
	return out, nil
}

// Machines implements Store
func (m *MongoStore) Machines(project, revision string) ([]Record, error) {
	out := []Record{}
	err := m.with(func(c *mgo.Collection) error {
		return c.Find(bson.M{"project": project, "revision": revision}).Sort("name").All(&out)
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to get records")
	}
	return out, nil
}

// Machine implements Store
func (m *MongoStore) Machine(project, revision, name string) (*Record, error) {
	var rec Record
	err := m.with(func(c *mgo.Collection) error {
		return c.Find(bson.M{"project": project, "revision": revision, "name": name}).One(&rec)
	})
	if err == mgo.ErrNotFound {
		return nil, errors.Wrapf(ErrRecordNotFound, "machine %s of %s/%s", name, project, revision)
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to get record")
	}
	return &rec, nil
}

// Remove removes records matching given spec
func (m *MongoStore) Remove(spec bson.M) error {
	return m.with(func(c *mgo.Collection) error {
		_, err := c.RemoveAll(spec)
		if err != nil && err != mgo.ErrNotFound {
			return err
		}
		return nil
	})
}

// Close closes MongoDB session
func (m *MongoStore) Close() {
	m.Session.Close()
}
