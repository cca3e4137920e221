package refdata

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cosflow/internal/logging"
	"cosflow/internal/merge"
	"cosflow/internal/services"
	"cosflow/internal/store"
)

// Report counts what a seed run wrote.
type Report struct {
	Users               int
	Operators           int
	CertificatesAdded   int
	CertificatesExisted int
	CertificateIDs      map[string][]int64
}

type preparedCert struct {
	nik     string
	payload string
	digest  string
}

// Seeder writes seed files into the store.
type Seeder struct {
	store    *store.Store
	combiner merge.Combiner
	logger   *slog.Logger
}

// NewSeeder constructs a Seeder. combiner is used to merge multi-file certificates.
func NewSeeder(st *store.Store, combiner merge.Combiner, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Seeder{store: st, combiner: combiner, logger: logging.NewComponentLogger(logger, "refdata")}
}

// Apply upserts every user and operator and inserts new certificates in one transaction.
func (s *Seeder) Apply(ctx context.Context, f *File) (*Report, error) {
	if f == nil {
		return nil, services.Wrap(services.ErrValidation, "refdata", "apply", "seed file is required", nil)
	}

	// Certificate files are read and merged before the transaction opens.
	var certs []preparedCert
	for _, op := range f.Operators {
		for i, c := range op.Certificates {
			cert, err := s.prepare(ctx, f, c)
			if err != nil {
				return nil, fmt.Errorf("operator %s certificate %d: %w", op.NIK, i, err)
			}
			cert.nik = strings.TrimSpace(op.NIK)
			certs = append(certs, cert)
		}
	}

	report := &Report{CertificateIDs: make(map[string][]int64)}
	now := time.Now().UTC()
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		for _, u := range f.Users {
			if err := tx.UpsertUser(ctx, store.User{
				ID:        u.ID,
				Username:  strings.TrimSpace(u.Username),
				FirstName: strings.TrimSpace(u.FirstName),
				FullName:  strings.TrimSpace(u.FullName),
				Role:      store.Role(u.Role),
			}); err != nil {
				return err
			}
			report.Users++
		}
		for _, op := range f.Operators {
			if err := tx.UpsertOperator(ctx, store.Operator{
				NIK:  strings.TrimSpace(op.NIK),
				Name: strings.TrimSpace(op.Name),
				Line: strings.TrimSpace(op.Line),
			}); err != nil {
				return err
			}
			report.Operators++
		}
		for _, c := range certs {
			id, found, err := tx.FindCertificate(ctx, c.nik, c.digest)
			if err != nil {
				return err
			}
			if found {
				report.CertificatesExisted++
			} else {
				if id, err = tx.InsertCertificate(ctx, c.nik, c.payload, c.digest, now); err != nil {
					return err
				}
				report.CertificatesAdded++
			}
			report.CertificateIDs[c.nik] = append(report.CertificateIDs[c.nik], id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reference data seeded",
		logging.String(logging.FieldEventType, "refdata_seeded"),
		logging.Int("users", report.Users),
		logging.Int("operators", report.Operators),
		logging.Int("certificates_added", report.CertificatesAdded),
		logging.Int("certificates_existing", report.CertificatesExisted),
	)
	return report, nil
}

// prepare builds the stored payload and the digest of its sources. Merged
// output differs between runs, so reuse is keyed on the inputs instead.
func (s *Seeder) prepare(ctx context.Context, f *File, c Certificate) (preparedCert, error) {
	if payload := strings.TrimSpace(c.Base64); payload != "" {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return preparedCert{}, services.Wrap(services.ErrDecode, "refdata", "certificate", "invalid base64 payload", err)
		}
		return preparedCert{payload: payload, digest: sourceDigest([][]byte{data})}, nil
	}
	if s.combiner == nil {
		return preparedCert{}, services.Wrap(services.ErrConfiguration, "refdata", "certificate", "no PDF combiner configured", nil)
	}

	sources := make([][]byte, 0, len(c.Files))
	parts := make([][]byte, 0, len(c.Files))
	for _, name := range c.Files {
		path := f.resolve(name)
		data, err := os.ReadFile(path)
		if err != nil {
			return preparedCert{}, fmt.Errorf("read %s: %w", path, err)
		}
		sources = append(sources, data)
		if strings.HasPrefix(mime.TypeByExtension(strings.ToLower(filepath.Ext(path))), "image/") {
			if data, err = s.combiner.ImageToPDF(ctx, data); err != nil {
				return preparedCert{}, fmt.Errorf("convert %s: %w", path, err)
			}
		} else if _, err := s.combiner.PageCount(ctx, data); err != nil {
			return preparedCert{}, fmt.Errorf("validate %s: %w", path, err)
		}
		parts = append(parts, data)
	}

	merged := parts[0]
	if len(parts) > 1 {
		var err error
		if merged, err = s.combiner.Merge(ctx, parts); err != nil {
			return preparedCert{}, fmt.Errorf("merge certificate files: %w", err)
		}
	}
	return preparedCert{payload: base64.StdEncoding.EncodeToString(merged), digest: sourceDigest(sources)}, nil
}

// sourceDigest hashes the ordered source files, each prefixed with its length.
func sourceDigest(sources [][]byte) string {
	h := sha256.New()
	var size [8]byte
	for _, src := range sources {
		binary.BigEndian.PutUint64(size[:], uint64(len(src)))
		h.Write(size[:])
		h.Write(src)
	}
	return hex.EncodeToString(h.Sum(nil))
}
