package vault

import (
	"strconv"

	"github.com/hamzasheedi/secure-hub/internal/storage"
)

// Record is the metadata row for one encrypted file.
type Record = storage.Record

const (
	Durable   = storage.Durable
	Ephemeral = storage.Ephemeral
)

// Audit actions written by the store.
const (
	ActionEncrypt = "encrypt"
	ActionDecrypt = "decrypt"
	ActionDelete  = "delete"
)

// auditDetails collects the non-secret fields recorded with an audit entry.
type auditDetails map[string]string

func (d auditDetails) file(id string) auditDetails {
	if id != "" {
		d["file_id"] = id
	}
	return d
}

func (d auditDetails) record(r Record) auditDetails {
	d["file_id"] = r.ID
	d["filename"] = r.OriginalName
	d["size"] = strconv.FormatInt(r.PlainSize, 10)
	d["location"] = string(r.StorageLocation)
	d["suite"] = r.CipherSuiteID
	return d
}

func (d auditDetails) failure(err error) auditDetails {
	d["error"] = Kind(err)
	return d
}
