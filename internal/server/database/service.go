// Package database exposes the document store of a (user, app) pair to
// application callers, gated by the vault's write permission and quota.
package database

import (
	"context"
	"errors"
	"slices"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/docstore"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/server/apps"
	"github.com/dmitrijs2005/hivenode/internal/server/vault"
)

// Collections reserved by the node inside every app database.
const (
	CollectionMetadata     = "__collection_metadata__"
	CollectionAnonymous    = "__anonymous_files__"
	CollectionFiles        = "ipfs_files"
	CollectionScripts      = "scripts"
	CollectionTransactions = "scripts_temptx"
)

var internalCollections = []string{
	CollectionMetadata,
	CollectionAnonymous,
	CollectionFiles,
	CollectionScripts,
	CollectionTransactions,
}

// IsInternal reports a reserved collection name.
func IsInternal(name string) bool { return slices.Contains(internalCollections, name) }

func checkName(name string) error {
	if err := docstore.ValidateName("collection", name); err != nil {
		return err
	}
	if IsInternal(name) {
		return common.InvalidParameter("collection name %q is reserved", name)
	}
	return nil
}

func collectionNotFound(name string) error {
	return common.NotFound(common.CodeCollectionNotFound, "collection %q not found", name)
}

// FindResult is a page of documents with the collection's encryption
// metadata.
type FindResult struct {
	Items         []docstore.Document `json:"items"`
	IsEncrypted   bool                `json:"is_encrypt"`
	EncryptMethod string              `json:"encrypt_method"`
}

type Service struct {
	docs   docstore.Store
	apps   *apps.Service
	vaults *vault.Service
	log    logging.Logger
}

func NewService(docs docstore.Store, a *apps.Service, v *vault.Service, log logging.Logger) *Service {
	return &Service{docs: docs, apps: a, vaults: v, log: log.With("module", "database")}
}

// Store is the underlying document store.
func (s *Service) Store() docstore.Store { return s.docs }

// DatabaseName is the database of the pair.
func (s *Service) DatabaseName(userDID, appDID string) string {
	return s.apps.DatabaseName(userDID, appDID)
}

func (s *Service) requireCollection(ctx context.Context, db, name string) error {
	names, err := s.docs.ListCollections(ctx, db)
	if err != nil {
		return err
	}
	if !slices.Contains(names, name) {
		return collectionNotFound(name)
	}
	return nil
}

// prepareWrite validates name and checks that the vault accepts writes and
// the collection exists.
func (s *Service) prepareWrite(ctx context.Context, userDID, appDID, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	if _, err := s.vaults.CheckWrite(ctx, userDID); err != nil {
		return "", err
	}
	db := s.apps.DatabaseName(userDID, appDID)
	return db, s.requireCollection(ctx, db, name)
}

func (s *Service) prepareRead(ctx context.Context, userDID, appDID, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	if _, err := s.vaults.Get(ctx, userDID); err != nil {
		return "", err
	}
	db := s.apps.DatabaseName(userDID, appDID)
	return db, s.requireCollection(ctx, db, name)
}

// CreateCollection creates name and records its encryption metadata.
func (s *Service) CreateCollection(ctx context.Context, userDID, appDID, name string, isEncrypted bool, encryptMethod string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if _, err := s.vaults.CheckWrite(ctx, userDID); err != nil {
		return err
	}
	db := s.apps.DatabaseName(userDID, appDID)
	if err := s.docs.CreateCollection(ctx, db, name); err != nil {
		return err
	}
	_, err := s.docs.UpdateOne(ctx, db, CollectionMetadata, docstore.Document{"name": name}, docstore.Document{
		"$set": docstore.Document{"is_encrypt": isEncrypted, "encrypt_method": encryptMethod},
	}, docstore.UpdateOptions{Upsert: true, Timestamp: true})
	if err != nil {
		return err
	}
	s.log.Debug(ctx, "collection created", "user_did", userDID, "app_did", appDID, "collection", name)
	return nil
}

// DeleteCollection drops name and its metadata. Dropping a missing
// collection succeeds.
func (s *Service) DeleteCollection(ctx context.Context, userDID, appDID, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if _, err := s.vaults.CheckWritePermission(ctx, userDID); err != nil {
		return err
	}
	db := s.apps.DatabaseName(userDID, appDID)
	if err := s.docs.DropCollection(ctx, db, name); err != nil {
		return err
	}
	_, err := s.docs.DeleteOne(ctx, db, CollectionMetadata, docstore.Document{"name": name})
	return err
}

func (s *Service) Insert(ctx context.Context, userDID, appDID, name string, docs []docstore.Document, opts docstore.InsertOptions) (*docstore.InsertManyResult, error) {
	if len(docs) == 0 {
		return nil, common.InvalidParameter("no documents to insert")
	}
	db, err := s.prepareWrite(ctx, userDID, appDID, name)
	if err != nil {
		return nil, err
	}
	return s.docs.InsertMany(ctx, db, name, docs, opts)
}

// Update applies update to the first (one) or every matching document.
func (s *Service) Update(ctx context.Context, userDID, appDID, name string, filter, update docstore.Document, opts docstore.UpdateOptions, one bool) (*docstore.UpdateResult, error) {
	db, err := s.prepareWrite(ctx, userDID, appDID, name)
	if err != nil {
		return nil, err
	}
	if one {
		return s.docs.UpdateOne(ctx, db, name, filter, update, opts)
	}
	return s.docs.UpdateMany(ctx, db, name, filter, update, opts)
}

func (s *Service) Delete(ctx context.Context, userDID, appDID, name string, filter docstore.Document, one bool) (int64, error) {
	db, err := s.prepareWrite(ctx, userDID, appDID, name)
	if err != nil {
		return 0, err
	}
	if one {
		return s.docs.DeleteOne(ctx, db, name, filter)
	}
	return s.docs.DeleteMany(ctx, db, name, filter)
}

func (s *Service) Count(ctx context.Context, userDID, appDID, name string, filter docstore.Document, opts docstore.CountOptions) (int64, error) {
	db, err := s.prepareRead(ctx, userDID, appDID, name)
	if err != nil {
		return 0, err
	}
	return s.docs.Count(ctx, db, name, filter, opts)
}

func (s *Service) Find(ctx context.Context, userDID, appDID, name string, filter docstore.Document, opts docstore.FindOptions) (*FindResult, error) {
	db, err := s.prepareRead(ctx, userDID, appDID, name)
	if err != nil {
		return nil, err
	}
	items, err := s.docs.Find(ctx, db, name, filter, opts)
	if err != nil {
		return nil, err
	}
	res := &FindResult{Items: items}
	meta, err := s.docs.FindOne(ctx, db, CollectionMetadata, docstore.Document{"name": name}, docstore.FindOptions{})
	switch {
	case err == nil:
		res.IsEncrypted, _ = meta["is_encrypt"].(bool)
		res.EncryptMethod, _ = meta["encrypt_method"].(string)
	case !errors.Is(err, docstore.ErrNoDocuments):
		return nil, err
	}
	return res, nil
}
