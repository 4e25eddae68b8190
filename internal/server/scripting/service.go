// Package scripting runs owner-published scripts: a condition tree checked
// against the owner's data and an executable acting on it on behalf of the
// caller. File executables hand out one-shot transactions consumed by the
// stream endpoints.
package scripting

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/docstore"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/server/auth"
	"github.com/dmitrijs2005/hivenode/internal/server/database"
	"github.com/dmitrijs2005/hivenode/internal/server/files"
	"github.com/dmitrijs2005/hivenode/internal/server/vault"
)

// Transaction kinds stored with a pending file transaction.
const (
	txUpload   = "upload"
	txDownload = "download"
)

// Target names the owner whose script runs.
type Target struct {
	DID    string `json:"target_did"`
	AppDID string `json:"target_app_did"`
}

type txProps struct {
	RowID        string `json:"row_id"`
	TargetDID    string `json:"target_did"`
	TargetAppDID string `json:"target_app_did"`
}

type Service struct {
	db      *database.Service
	files   *files.Service
	vaults  *vault.Service
	tokens  *auth.Tokens
	baseURL string
	txTTL   time.Duration
	log     logging.Logger
}

func NewService(db *database.Service, f *files.Service, v *vault.Service, tokens *auth.Tokens, baseURL string, txTTL time.Duration, log logging.Logger) *Service {
	return &Service{
		db:      db,
		files:   f,
		vaults:  v,
		tokens:  tokens,
		baseURL: baseURL,
		txTTL:   txTTL,
		log:     log.With("module", "scripting"),
	}
}

func scriptNotFound(name string) error {
	return common.NotFound(common.CodeScriptNotFound, "script %q not found", name)
}

func (s *Service) docs() docstore.Store { return s.db.Store() }

// Register validates and stores a script under name, replacing a previous
// version.
func (s *Service) Register(ctx context.Context, userDID, appDID, name string, body docstore.Document) (*docstore.UpdateResult, error) {
	if _, err := ParseScript(name, body); err != nil {
		return nil, err
	}
	if _, err := s.vaults.CheckWrite(ctx, userDID); err != nil {
		return nil, err
	}

	set := docstore.Document{"name": name}
	for _, k := range []string{"condition", "executable", "allowAnonymousUser", "allowAnonymousApp"} {
		if v, ok := body[k]; ok {
			set[k] = v
		}
	}
	unset := docstore.Document{}
	if _, ok := body["condition"]; !ok {
		unset["condition"] = ""
	}
	update := docstore.Document{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	res, err := s.docs().UpdateOne(ctx, s.db.DatabaseName(userDID, appDID), database.CollectionScripts,
		docstore.Document{"name": name}, update, docstore.UpdateOptions{Upsert: true, Timestamp: true})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "script registered", "user_did", userDID, "app_did", appDID, "script", name)
	return res, nil
}

// RegisterPublicDownload publishes a script that lets anyone download the
// file at path.
func (s *Service) RegisterPublicDownload(ctx context.Context, userDID, appDID, name, path string) error {
	_, err := s.Register(ctx, userDID, appDID, name, docstore.Document{
		"allowAnonymousUser": true,
		"allowAnonymousApp":  true,
		"executable": map[string]any{
			"name":   name,
			"type":   ExecFileDownload,
			"output": true,
			"body":   map[string]any{"path": path},
		},
	})
	return err
}

func (s *Service) Unregister(ctx context.Context, userDID, appDID, name string) error {
	if _, err := s.vaults.CheckWritePermission(ctx, userDID); err != nil {
		return err
	}
	n, err := s.docs().DeleteOne(ctx, s.db.DatabaseName(userDID, appDID), database.CollectionScripts, docstore.Document{"name": name})
	if err != nil {
		return err
	}
	if n == 0 {
		return scriptNotFound(name)
	}
	s.log.Info(ctx, "script unregistered", "user_did", userDID, "app_did", appDID, "script", name)
	return nil
}

// run carries one script call.
type run struct {
	s        *Service
	owner    string
	ownerApp string
	caller   *auth.Identity
}

// Run calls the owner's script name. caller is nil for anonymous calls.
// An empty target defaults to the caller.
func (s *Service) Run(ctx context.Context, caller *auth.Identity, name string, target Target, params map[string]any) (map[string]any, error) {
	if caller != nil {
		if target.DID == "" {
			target.DID = caller.UserDID
		}
		if target.AppDID == "" {
			target.AppDID = caller.AppDID
		}
	}
	if target.DID == "" || target.AppDID == "" {
		return nil, common.InvalidParameter("target_did and target_app_did are required")
	}
	if _, err := s.vaults.Get(ctx, target.DID); err != nil {
		return nil, err
	}

	raw, err := s.docs().FindOne(ctx, s.db.DatabaseName(target.DID, target.AppDID), database.CollectionScripts,
		docstore.Document{"name": name}, docstore.FindOptions{})
	if errors.Is(err, docstore.ErrNoDocuments) {
		return nil, scriptNotFound(name)
	}
	if err != nil {
		return nil, err
	}
	stored, err := ParseScript(name, raw)
	if err != nil {
		return nil, err
	}
	if !stored.AllowAnonymousUser && (caller == nil || caller.UserDID == "") {
		return nil, common.Unauthorized("script %q requires an authenticated user", name)
	}
	if !stored.AllowAnonymousApp && (caller == nil || caller.AppDID == "") {
		return nil, common.Forbidden("script %q requires an authenticated application", name)
	}

	sub := &substituter{params: params}
	if caller != nil {
		sub.callerDID, sub.callerAppDID = caller.UserDID, caller.AppDID
	}
	substituted, err := sub.script(raw)
	if err != nil {
		return nil, err
	}
	script, err := ParseScript(name, substituted)
	if err != nil {
		return nil, err
	}

	r := &run{s: s, owner: target.DID, ownerApp: target.AppDID, caller: caller}
	if script.Condition != nil {
		ok, err := r.evaluate(ctx, script.Condition)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, common.Forbidden("script %q: condition %q is not satisfied", name, script.Condition.conditionName())
		}
	}
	out := map[string]any{}
	if err := r.collect(ctx, script.Executable, out); err != nil {
		return nil, err
	}
	s.log.Debug(ctx, "script executed", "owner_did", target.DID, "script", name)
	return out, nil
}

func (r *run) evaluate(ctx context.Context, c Condition) (bool, error) {
	switch t := c.(type) {
	case *QueryHasResults:
		n, err := r.s.db.Count(ctx, r.owner, r.ownerApp, t.Collection, t.Filter, docstore.CountOptions{Limit: 1})
		if errors.Is(err, common.ErrorNotFound) && common.CodeOf(err) == common.CodeCollectionNotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	case *And:
		for _, item := range t.Items {
			ok, err := r.evaluate(ctx, item)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case *Or:
		for _, item := range t.Items {
			ok, err := r.evaluate(ctx, item)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, common.InvalidParameter("unknown condition %T", c)
}

// collect runs e and merges the outputs it produces into out.
func (r *run) collect(ctx context.Context, e Executable, out map[string]any) error {
	if agg, ok := e.(*Aggregated); ok {
		for _, item := range agg.Items {
			if err := r.collect(ctx, item, out); err != nil {
				return err
			}
		}
		return nil
	}
	res, err := r.execute(ctx, e)
	if err != nil {
		return err
	}
	if e.execOutput() {
		out[e.execName()] = res
	}
	return nil
}

func (r *run) execute(ctx context.Context, e Executable) (any, error) {
	switch t := e.(type) {
	case *DatabaseOp:
		return r.database(ctx, t)
	case *FileOp:
		return r.file(ctx, t)
	}
	return nil, common.InvalidParameter("unknown executable %T", e)
}

func (r *run) database(ctx context.Context, op *DatabaseOp) (any, error) {
	db := r.s.db
	switch op.Type {
	case ExecFind:
		opts, err := database.ParseFindOptions(op.Options)
		if err != nil {
			return nil, err
		}
		res, err := db.Find(ctx, r.owner, r.ownerApp, op.Collection, op.Filter, opts)
		if err != nil {
			return nil, err
		}
		return map[string]any{"items": res.Items}, nil
	case ExecCount:
		opts, err := database.ParseCountOptions(op.Options)
		if err != nil {
			return nil, err
		}
		n, err := db.Count(ctx, r.owner, r.ownerApp, op.Collection, op.Filter, opts)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": n}, nil
	case ExecInsert:
		opts, err := database.ParseInsertOptions(op.Options)
		if err != nil {
			return nil, err
		}
		res, err := db.Insert(ctx, r.owner, r.ownerApp, op.Collection, []docstore.Document{op.Document}, opts)
		if err != nil {
			return nil, err
		}
		return map[string]any{"acknowledged": true, "inserted_id": res.InsertedIDs[0]}, nil
	case ExecUpdate:
		opts, err := database.ParseUpdateOptions(op.Options)
		if err != nil {
			return nil, err
		}
		res, err := db.Update(ctx, r.owner, r.ownerApp, op.Collection, op.Filter, op.Update, opts, false)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"acknowledged":   true,
			"matched_count":  res.MatchedCount,
			"modified_count": res.ModifiedCount,
			"upserted_id":    res.UpsertedID,
		}, nil
	case ExecDelete:
		n, err := db.Delete(ctx, r.owner, r.ownerApp, op.Collection, op.Filter, false)
		if err != nil {
			return nil, err
		}
		return map[string]any{"acknowledged": true, "deleted_count": n}, nil
	}
	return nil, common.InvalidParameter("unknown database executable %q", op.Type)
}

func (r *run) file(ctx context.Context, op *FileOp) (any, error) {
	switch op.Type {
	case ExecFileUpload:
		if _, err := files.CleanPath(op.Path); err != nil {
			return nil, err
		}
		tx, err := r.transaction(ctx, op.Path, txUpload)
		if err != nil {
			return nil, err
		}
		return map[string]any{"transaction_id": tx}, nil
	case ExecFileDownload:
		if _, err := r.s.files.Properties(ctx, r.owner, r.ownerApp, op.Path); err != nil {
			return nil, err
		}
		tx, err := r.transaction(ctx, op.Path, txDownload)
		if err != nil {
			return nil, err
		}
		res := map[string]any{"transaction_id": tx}
		cid, err := r.s.files.PublicCID(ctx, r.owner, r.ownerApp, op.Path)
		if err != nil {
			return nil, err
		}
		if cid != "" {
			res["anonymous_url"] = r.s.AnonymousURL(r.owner, r.ownerApp, cid)
		}
		return res, nil
	case ExecFileProperties:
		m, err := r.s.files.Properties(ctx, r.owner, r.ownerApp, op.Path)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"name":        m.Path,
			"type":        "file",
			"size":        m.Size,
			"last_modify": m.Modified,
		}, nil
	case ExecFileHash:
		m, err := r.s.files.Properties(ctx, r.owner, r.ownerApp, op.Path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"SHA256": m.SHA256}, nil
	}
	return nil, common.InvalidParameter("unknown file executable %q", op.Type)
}

// AnonymousURL is where a published file can be fetched without a token.
func (s *Service) AnonymousURL(ownerDID, appDID, cid string) string {
	return s.baseURL + common.APIPrefix + "/vault/anonymous/" +
		url.PathEscape(ownerDID+"@"+appDID) + "/" + url.PathEscape(cid)
}

// transaction records a pending file transfer in the owner's database and
// returns the token that redeems it.
func (r *run) transaction(ctx context.Context, path, kind string) (string, error) {
	doc := docstore.Document{
		"document":  map[string]any{"file_name": path, "fileapi_type": kind},
		"anonymous": r.caller == nil,
	}
	res, err := r.s.docs().InsertOne(ctx, r.s.db.DatabaseName(r.owner, r.ownerApp), database.CollectionTransactions,
		doc, docstore.InsertOptions{Timestamp: true})
	if err != nil {
		return "", err
	}
	id, ok := res.InsertedID.(docstore.ObjectID)
	if !ok {
		return "", common.Internal(nil, "transaction id has type %T", res.InsertedID)
	}
	props := txProps{RowID: id.Hex(), TargetDID: r.owner, TargetAppDID: r.ownerApp}
	tok, err := r.s.tokens.Issue(auth.SubjectTransaction, "", time.Now().Add(r.s.txTTL), "", props)
	if err != nil {
		return "", common.Internal(err, "sign transaction")
	}
	return tok, nil
}

// redeem consumes the transaction behind token. A transaction works once.
func (s *Service) redeem(ctx context.Context, token, kind string) (*txProps, string, error) {
	claims, err := s.tokens.Parse(token, auth.SubjectTransaction)
	if err != nil {
		return nil, "", err
	}
	var p txProps
	if err := claims.DecodeProps(&p); err != nil {
		return nil, "", err
	}
	id, err := docstore.ParseObjectID(p.RowID)
	if err != nil {
		return nil, "", common.Unauthorized("invalid transaction")
	}
	db := s.db.DatabaseName(p.TargetDID, p.TargetAppDID)
	filter := docstore.Document{"_id": id}
	row, err := s.docs().FindOne(ctx, db, database.CollectionTransactions, filter, docstore.FindOptions{})
	if errors.Is(err, docstore.ErrNoDocuments) {
		return nil, "", common.NotFound(common.CodeScriptNotFound, "transaction not found or already used")
	}
	if err != nil {
		return nil, "", err
	}
	doc, _ := row["document"].(map[string]any)
	if got, _ := doc["fileapi_type"].(string); got != kind {
		return nil, "", common.InvalidParameter("transaction is not a %s", kind)
	}
	n, err := s.docs().DeleteOne(ctx, db, database.CollectionTransactions, filter)
	if err != nil {
		return nil, "", err
	}
	if n == 0 {
		return nil, "", common.NotFound(common.CodeScriptNotFound, "transaction not found or already used")
	}
	path, _ := doc["file_name"].(string)
	return &p, path, nil
}

// UploadStream stores r at the path of an upload transaction.
func (s *Service) UploadStream(ctx context.Context, token string, r io.Reader) (*files.Metadata, error) {
	p, path, err := s.redeem(ctx, token, txUpload)
	if err != nil {
		return nil, err
	}
	return s.files.Upload(ctx, p.TargetDID, p.TargetAppDID, path, r, files.UploadOptions{})
}

// DownloadStream opens the file of a download transaction. The caller
// closes the file.
func (s *Service) DownloadStream(ctx context.Context, token string) (*files.Metadata, *os.File, error) {
	p, path, err := s.redeem(ctx, token, txDownload)
	if err != nil {
		return nil, nil, err
	}
	return s.files.Open(ctx, p.TargetDID, p.TargetAppDID, path)
}
