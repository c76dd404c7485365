package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // The CouchDB driver
)

// CouchDBConfig configures the CouchDB connection.
type CouchDBConfig struct {
	URL             string
	Database        string
	Username        string
	Password        string
	CreateIfMissing bool
}

// CouchDBService wraps the kivik client for the server's single logical
// database. Every entity is stored as one document carrying a `@type`
// discriminator and a `username` field; the document `_id` encodes
// type, user and entity id so lookups by id avoid a Mango round-trip.
type CouchDBService struct {
	client   *kivik.Client
	database *kivik.DB
	dbName   string
}

// NewCouchDBService connects to CouchDB and opens (optionally creating) the
// configured database.
func NewCouchDBService(ctx context.Context, config CouchDBConfig) (*CouchDBService, error) {
	connectionURL := config.URL
	if config.Username != "" && config.Password != "" && !strings.Contains(connectionURL, "@") {
		parts := strings.SplitN(connectionURL, "://", 2)
		if len(parts) == 2 {
			connectionURL = fmt.Sprintf("%s://%s:%s@%s", parts[0], config.Username, config.Password, parts[1])
		}
	}

	client, err := kivik.New("couch", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to check if database exists: %w", err)
	}
	if !exists {
		if !config.CreateIfMissing {
			return nil, fmt.Errorf("database %q does not exist", config.Database)
		}
		if err := client.CreateDB(ctx, config.Database); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &CouchDBService{
		client:   client,
		database: client.DB(config.Database),
		dbName:   config.Database,
	}, nil
}

// Close releases the client connection.
func (c *CouchDBService) Close() error {
	return c.client.Close()
}

// docID builds the document id for an entity.
func docID(docType, username, entityID string) string {
	return docType + "/" + username + "/" + entityID
}

// putDoc stores entity under id, preserving the current revision when the
// document already exists (CouchDB MVCC).
func (c *CouchDBService) putDoc(ctx context.Context, id, docType, username string, entity interface{}) error {
	raw, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal document: %w", err)
	}
	doc["_id"] = id
	doc["@type"] = docType
	doc["username"] = username

	// Pick up the current revision for updates.
	var existing map[string]interface{}
	if err := c.database.Get(ctx, id).ScanDoc(&existing); err == nil {
		if rev, ok := existing["_rev"]; ok {
			doc["_rev"] = rev
		}
	}

	if _, err := c.database.Put(ctx, id, doc); err != nil {
		return fmt.Errorf("failed to save document %s: %w", id, err)
	}
	return nil
}

// getDoc loads the document with the given id into target.
func (c *CouchDBService) getDoc(ctx context.Context, id string, target interface{}) error {
	row := c.database.Get(ctx, id)
	if err := row.ScanDoc(target); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return nil
}

// deleteDoc removes the document with the given id; missing documents are
// not an error.
func (c *CouchDBService) deleteDoc(ctx context.Context, id string) error {
	var doc map[string]interface{}
	row := c.database.Get(ctx, id)
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil
		}
		return fmt.Errorf("failed to get document %s: %w", id, err)
	}
	rev, _ := doc["_rev"].(string)
	if _, err := c.database.Delete(ctx, id, rev); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// find executes a Mango query and scans each matching document into a fresh
// value produced by newItem, invoking fn with it.
func (c *CouchDBService) find(ctx context.Context, query MangoQuery, fn func(raw json.RawMessage) error) error {
	rows := c.database.Find(ctx, query.Selector, kivik.Params(query.toParams()))
	defer rows.Close()

	for rows.Next() {
		var doc json.RawMessage
		if err := rows.ScanDoc(&doc); err != nil {
			return fmt.Errorf("failed to scan document: %w", err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return rows.Err()
}

// toParams converts the query options to kivik parameters.
func (q *MangoQuery) toParams() map[string]interface{} {
	params := map[string]interface{}{}
	if len(q.Fields) > 0 {
		params["fields"] = q.Fields
	}
	if len(q.Sort) > 0 {
		params["sort"] = q.Sort
	}
	if q.Limit > 0 {
		params["limit"] = q.Limit
	}
	if q.Skip > 0 {
		params["skip"] = q.Skip
	}
	if q.UseIndex != "" {
		params["use_index"] = q.UseIndex
	}
	return params
}
