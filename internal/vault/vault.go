// Package vault encrypts files under per-file passwords and keeps them on a
// durable backend when one is reachable, on local scratch storage otherwise.
// Every operation is recorded in the audit chain, successful or not.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hamzasheedi/secure-hub/internal/audit"
	cr "github.com/hamzasheedi/secure-hub/internal/crypto"
	"github.com/hamzasheedi/secure-hub/internal/storage"
)

const maxFilenameLen = 255

type Options struct {
	Records   storage.RecordStore
	Durable   storage.BlobStore // optional
	Ephemeral storage.BlobStore
	Audit     *audit.Chain

	// Suite is applied to new files. Existing files are opened with the
	// suite recorded on them.
	Suite  cr.Suite
	Policy Policy

	// ScratchDir is probed for free space before every encrypt.
	ScratchDir string
	FreeSpace  func(dir string) (uint64, error)

	Logger *logrus.Logger
	Now    func() time.Time
}

type Store struct {
	records    storage.RecordStore
	blobs      placement
	chain      *audit.Chain
	suite      cr.Suite
	policy     Policy
	scratchDir string
	freeSpace  func(string) (uint64, error)
	log        *logrus.Logger
	now        func() time.Time
}

func New(opts Options) (*Store, error) {
	if opts.Records == nil {
		return nil, errors.New("vault: record store is required")
	}
	if opts.Ephemeral == nil {
		return nil, errors.New("vault: ephemeral blob store is required")
	}
	if opts.Audit == nil {
		return nil, errors.New("vault: audit chain is required")
	}
	if opts.Suite.Codec == nil {
		opts.Suite = cr.DefaultSuite()
	}
	if opts.FreeSpace == nil {
		opts.FreeSpace = storage.FreeSpace
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	policy := opts.Policy.withDefaults()
	return &Store{
		records:    opts.Records,
		blobs:      newPlacement(opts.Durable, opts.Ephemeral, policy.DurableTimeout, opts.Logger),
		chain:      opts.Audit,
		suite:      opts.Suite,
		policy:     policy,
		scratchDir: opts.ScratchDir,
		freeSpace:  opts.FreeSpace,
		log:        opts.Logger,
		now:        opts.Now,
	}, nil
}

func (s *Store) Policy() Policy { return s.policy }

func (s *Store) SuiteID() string { return s.suite.ID() }

// Encrypt seals plaintext under password and stores it for ownerID. Either
// the blob, the record and the audit entry all persist, or none do.
func (s *Store) Encrypt(ctx context.Context, ownerID, filename string, plaintext, password []byte) (Record, error) {
	details := auditDetails{"filename": filename, "size": fmt.Sprint(len(plaintext))}

	rec, err := s.encrypt(ctx, ownerID, filename, plaintext, password)
	if err != nil {
		s.auditFailure(ctx, ownerID, ActionEncrypt, details.file(rec.ID).failure(err))
		s.log.WithFields(logrus.Fields{
			"owner_id": ownerID,
			"filename": filename,
			"size":     len(plaintext),
			"kind":     Kind(err),
		}).Warn("encrypt failed")
		return Record{}, err
	}

	if _, err := s.chain.Append(ctx, &ownerID, ActionEncrypt, audit.ResultSuccess, auditDetails{}.record(rec)); err != nil {
		s.rollback(rec)
		s.log.WithFields(logrus.Fields{"file_id": rec.ID, "error": err.Error()}).Error("audit append failed, encrypt rolled back")
		return Record{}, err
	}

	s.log.WithFields(logrus.Fields{
		"file_id":  rec.ID,
		"owner_id": ownerID,
		"size":     rec.PlainSize,
		"location": rec.StorageLocation,
		"suite":    rec.CipherSuiteID,
	}).Info("file encrypted")
	return rec, nil
}

// encrypt returns the partially built record alongside an error so the
// failure entry can name the file id once one was assigned.
func (s *Store) encrypt(ctx context.Context, ownerID, filename string, plaintext, password []byte) (Record, error) {
	if err := validateEncrypt(ownerID, filename, password); err != nil {
		return Record{}, err
	}
	size := int64(len(plaintext))
	if size > s.policy.MaxPayloadBytes {
		return Record{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, size, s.policy.MaxPayloadBytes)
	}
	if err := s.checkHeadroom(size); err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		OriginalName:  filename,
		PlainSize:     size,
		CipherSuiteID: s.suite.ID(),
	}

	envelope, err := cr.SealEnvelope(password, plaintext, s.suite)
	if err != nil {
		return rec, err
	}

	loc, ref, err := s.blobs.put(ctx, rec.ID, envelope)
	if err != nil {
		return rec, err
	}
	rec.StorageLocation = loc
	rec.StorageRef = ref
	rec.CreatedAt = s.now().UTC()

	if err := s.records.Insert(ctx, rec); err != nil {
		s.deleteBlob(rec)
		return rec, fmt.Errorf("vault: save record: %w", err)
	}
	return rec, nil
}

// Decrypt returns the plaintext of fileID if ownerID owns it and password
// opens it.
func (s *Store) Decrypt(ctx context.Context, fileID, ownerID string, password []byte) ([]byte, error) {
	details := auditDetails{}.file(fileID)

	rec, pt, err := s.decrypt(ctx, fileID, ownerID, password)
	if err != nil {
		if rec.ID != "" {
			details.record(rec)
		}
		s.auditFailure(ctx, ownerID, ActionDecrypt, details.failure(err))
		s.log.WithFields(logrus.Fields{
			"file_id":  fileID,
			"owner_id": ownerID,
			"kind":     Kind(err),
		}).Warn("decrypt failed")
		return nil, err
	}

	if _, err := s.chain.Append(ctx, &ownerID, ActionDecrypt, audit.ResultSuccess, details.record(rec)); err != nil {
		cr.Zero(pt)
		s.log.WithFields(logrus.Fields{"file_id": fileID, "error": err.Error()}).Error("audit append failed, plaintext withheld")
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"file_id":  fileID,
		"owner_id": ownerID,
		"location": rec.StorageLocation,
	}).Info("file decrypted")
	return pt, nil
}

func (s *Store) decrypt(ctx context.Context, fileID, ownerID string, password []byte) (Record, []byte, error) {
	if len(password) == 0 {
		return Record{}, nil, fmt.Errorf("%w: password is empty", ErrInvalidParameter)
	}
	rec, err := s.lookup(ctx, fileID, ownerID)
	if err != nil {
		return Record{}, nil, err
	}
	suite, err := cr.ParseSuite(rec.CipherSuiteID)
	if err != nil {
		return rec, nil, fmt.Errorf("%w: record suite %q: %v", ErrCorruptEnvelope, rec.CipherSuiteID, err)
	}
	envelope, err := s.blobs.get(ctx, rec.StorageLocation, rec.StorageRef)
	if errors.Is(err, storage.ErrNotFound) {
		return rec, nil, fmt.Errorf("%w: blob missing from %s storage", ErrNotFoundOrForbidden, rec.StorageLocation)
	}
	if err != nil {
		return rec, nil, err
	}
	if err := ctx.Err(); err != nil {
		return rec, nil, err
	}
	pt, err := cr.OpenEnvelope(password, envelope, suite)
	if err != nil {
		return rec, nil, err
	}
	return rec, pt, nil
}

// Get returns the record for fileID if ownerID owns it.
func (s *Store) Get(ctx context.Context, fileID, ownerID string) (Record, error) {
	return s.lookup(ctx, fileID, ownerID)
}

// List returns ownerID's records, oldest first.
func (s *Store) List(ctx context.Context, ownerID string) ([]Record, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is empty", ErrInvalidParameter)
	}
	recs, err := s.records.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("vault: list records: %w", err)
	}
	return recs, nil
}

// Delete removes fileID. The record goes first so a live record never points
// at a missing blob; the blob is then removed best-effort and a backend
// failure is only logged.
func (s *Store) Delete(ctx context.Context, fileID, ownerID string) error {
	details := auditDetails{}.file(fileID)

	rec, err := s.lookup(ctx, fileID, ownerID)
	if err == nil {
		details.record(rec)
		if derr := s.records.Delete(ctx, rec.ID); derr != nil {
			if errors.Is(derr, storage.ErrRecordNotFound) {
				derr = ErrNotFoundOrForbidden
			}
			err = fmt.Errorf("vault: delete record: %w", derr)
		} else {
			s.deleteBlob(rec)
		}
	}
	if err != nil {
		s.auditFailure(ctx, ownerID, ActionDelete, details.failure(err))
		s.log.WithFields(logrus.Fields{
			"file_id":  fileID,
			"owner_id": ownerID,
			"kind":     Kind(err),
		}).Warn("delete failed")
		return err
	}

	if _, err := s.chain.Append(ctx, &ownerID, ActionDelete, audit.ResultSuccess, details); err != nil {
		s.log.WithFields(logrus.Fields{"file_id": fileID, "error": err.Error()}).Error("audit append failed after delete")
		return err
	}
	s.log.WithFields(logrus.Fields{"file_id": fileID, "owner_id": ownerID}).Info("file deleted")
	return nil
}

// VerifyAudit checks the whole audit chain.
func (s *Store) VerifyAudit(ctx context.Context) error {
	err := s.chain.Verify(ctx)
	var broken *audit.BrokenLinkError
	if errors.As(err, &broken) {
		s.log.WithFields(logrus.Fields{
			"index":    broken.Index,
			"entry_id": broken.EntryID,
			"reason":   broken.Reason,
		}).Error("audit chain integrity violation")
	}
	return err
}

// SystemEvent appends an entry with no user, e.g. process start.
func (s *Store) SystemEvent(ctx context.Context, action string, details map[string]string) error {
	_, err := s.chain.Append(ctx, nil, action, audit.ResultSuccess, details)
	return err
}

func (s *Store) lookup(ctx context.Context, fileID, ownerID string) (Record, error) {
	if fileID == "" || ownerID == "" {
		return Record{}, ErrNotFoundOrForbidden
	}
	rec, err := s.records.Get(ctx, fileID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return Record{}, ErrNotFoundOrForbidden
	}
	if err != nil {
		return Record{}, fmt.Errorf("vault: load record: %w", err)
	}
	if rec.OwnerID != ownerID {
		return Record{}, ErrNotFoundOrForbidden
	}
	return rec, nil
}

func (s *Store) checkHeadroom(size int64) error {
	free, err := s.freeSpace(s.scratchDir)
	if err != nil {
		s.log.WithFields(logrus.Fields{"dir": s.scratchDir, "error": err.Error()}).Warn("free space probe failed, skipping headroom check")
		return nil
	}
	need := storage.RequiredHeadroom(size, s.policy.HeadroomBuffer)
	if free < need {
		return fmt.Errorf("%w: need %d bytes, %d available", ErrInsufficientStorage, need, free)
	}
	return nil
}

// rollback undoes a committed blob and record. It runs detached from the
// request context so cancellation cannot leave orphans behind.
func (s *Store) rollback(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), s.policy.DurableTimeout)
	defer cancel()
	if err := s.records.Delete(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		s.log.WithFields(logrus.Fields{"file_id": rec.ID, "error": err.Error()}).Error("rollback: delete record failed")
	}
	s.deleteBlob(rec)
}

func (s *Store) deleteBlob(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), s.policy.DurableTimeout)
	defer cancel()
	if err := s.blobs.delete(ctx, rec.StorageLocation, rec.StorageRef); err != nil {
		s.log.WithFields(logrus.Fields{
			"file_id":  rec.ID,
			"location": rec.StorageLocation,
			"error":    err.Error(),
		}).Warn("blob delete failed")
	}
}

func (s *Store) auditFailure(ctx context.Context, ownerID, action string, details auditDetails) {
	var user *string
	if ownerID != "" {
		user = &ownerID
	}
	// A cancelled request still gets its failure recorded.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.policy.DurableTimeout)
	defer cancel()
	if _, err := s.chain.Append(actx, user, action, audit.ResultFailure, details); err != nil {
		s.log.WithFields(logrus.Fields{"action": action, "error": err.Error()}).Error("audit append failed")
	}
}

func validateEncrypt(ownerID, filename string, password []byte) error {
	switch {
	case ownerID == "":
		return fmt.Errorf("%w: owner id is empty", ErrInvalidParameter)
	case strings.TrimSpace(filename) == "":
		return fmt.Errorf("%w: filename is empty", ErrInvalidParameter)
	case len(filename) > maxFilenameLen:
		return fmt.Errorf("%w: filename longer than %d bytes", ErrInvalidParameter, maxFilenameLen)
	case len(password) == 0:
		return fmt.Errorf("%w: password is empty", ErrInvalidParameter)
	}
	return nil
}
