package merge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cosflow/internal/config"
	"cosflow/internal/logging"
	"cosflow/internal/services"
	"cosflow/internal/store"
)

// Source identifies where a fragment came from.
type Source string

const (
	SourceDocument    Source = "document"
	SourceCertificate Source = "certificate"
)

// Fragment describes one input of a merged artifact.
type Fragment struct {
	Source        Source
	DocumentID    int64
	CertificateID int64
	DocType       store.DocType
	FileName      string
	Pages         int
}

// Label renders a short identifier for logs and reports.
func (f Fragment) Label() string {
	if f.Source == SourceCertificate {
		return fmt.Sprintf("certificate#%d", f.CertificateID)
	}
	return fmt.Sprintf("%s:%s", f.DocType, f.FileName)
}

// Skipped is a fragment dropped during assembly.
type Skipped struct {
	Fragment Fragment
	Reason   string
}

// Result is the outcome of one assembly.
type Result struct {
	GroupID   string
	PDF       []byte
	Pages     int
	Fragments []Fragment
	Skipped   []Skipped
	Artifact  *store.MergedArtifact
}

// Empty reports whether no fragment survived.
func (r *Result) Empty() bool { return r == nil || len(r.Fragments) == 0 }

// Engine assembles a group's uploads and operator certificates into one PDF.
type Engine struct {
	store        *store.Store
	combiner     Combiner
	logger       *slog.Logger
	maxFragments int
	maxBytes     int64
	now          func() time.Time
}

// NewEngine wires an engine with ceilings from cfg.
func NewEngine(st *store.Store, combiner Combiner, cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:        st,
		combiner:     combiner,
		logger:       logging.NewComponentLogger(logger, "merge"),
		maxFragments: cfg.Merge.MaxFragments,
		maxBytes:     cfg.MaxMergeBytes(),
		now:          time.Now,
	}
}

type pending struct {
	frag    Fragment
	content []byte
	image   bool
}

// Assemble orders docs, converts images, appends decoded certificates, and
// merges every fragment that parses. Failing fragments are logged and skipped.
func (e *Engine) Assemble(ctx context.Context, groupID string, docs []store.Document, certs []store.OperatorCertificate) (*Result, error) {
	ctx = services.WithComponent(services.WithGroupID(ctx, groupID), "merge")
	logger := logging.WithContext(ctx, e.logger)
	result := &Result{GroupID: groupID}

	inputs := make([]pending, 0, len(docs)+len(certs))
	var total int64
	for _, doc := range Order(docs) {
		frag := Fragment{Source: SourceDocument, DocumentID: doc.ID, DocType: doc.DocType, FileName: doc.FileName}
		if len(doc.Content) == 0 {
			e.skip(logger, result, frag, "empty content")
			continue
		}
		total += int64(len(doc.Content))
		inputs = append(inputs, pending{frag: frag, content: doc.Content, image: isImage(doc.MimeType)})
	}
	for _, cert := range certs {
		frag := Fragment{Source: SourceCertificate, CertificateID: cert.ID, FileName: cert.NIK}
		if strings.TrimSpace(cert.MergedPDF) == "" {
			e.skip(logger, result, frag, "empty certificate")
			continue
		}
		total += int64(base64.StdEncoding.DecodedLen(len(cert.MergedPDF)))
		inputs = append(inputs, pending{frag: frag, content: []byte(cert.MergedPDF)})
	}

	if e.maxFragments > 0 && len(inputs) > e.maxFragments {
		return nil, services.Wrap(services.ErrValidation, "merge", "assemble",
			fmt.Sprintf("%d fragments exceed limit of %d", len(inputs), e.maxFragments), nil)
	}
	if e.maxBytes > 0 && total > e.maxBytes {
		return nil, services.Wrap(services.ErrValidation, "merge", "assemble",
			fmt.Sprintf("%d input bytes exceed limit of %d", total, e.maxBytes), nil)
	}

	parts := make([][]byte, 0, len(inputs))
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pdf, err := e.fragmentPDF(ctx, in)
		if err != nil {
			e.skip(logger, result, in.frag, err.Error())
			continue
		}
		pages, err := e.combiner.PageCount(ctx, pdf)
		if err != nil || pages == 0 {
			reason := "no pages"
			if err != nil {
				reason = services.Wrap(services.ErrDecode, "merge", "parse pdf", in.frag.Label(), err).Error()
			}
			e.skip(logger, result, in.frag, reason)
			continue
		}
		in.frag.Pages = pages
		result.Fragments = append(result.Fragments, in.frag)
		result.Pages += pages
		parts = append(parts, pdf)
	}

	if len(parts) == 0 {
		return result, nil
	}
	merged, err := e.combiner.Merge(ctx, parts)
	if err != nil {
		return nil, services.Wrap(services.ErrDecode, "merge", "combine", fmt.Sprintf("%d fragments", len(parts)), err)
	}
	result.PDF = merged
	return result, nil
}

func (e *Engine) fragmentPDF(ctx context.Context, in pending) ([]byte, error) {
	switch {
	case in.frag.Source == SourceCertificate:
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(in.content)))
		if err != nil {
			return nil, services.Wrap(services.ErrDecode, "merge", "decode certificate", in.frag.Label(), err)
		}
		return decoded, nil
	case in.image:
		pdf, err := e.combiner.ImageToPDF(ctx, in.content)
		if err != nil {
			return nil, services.Wrap(services.ErrDecode, "merge", "convert image", in.frag.Label(), err)
		}
		return pdf, nil
	default:
		return in.content, nil
	}
}

func (e *Engine) skip(logger *slog.Logger, result *Result, frag Fragment, reason string) {
	result.Skipped = append(result.Skipped, Skipped{Fragment: frag, Reason: reason})
	logging.WarnWithContext(logger, "merge fragment skipped", "merge_fragment_skipped",
		logging.String("fragment", frag.Label()),
		logging.String("reason", reason),
		logging.String(logging.FieldImpact, "fragment omitted from merged PDF"),
		logging.String(logging.FieldErrorHint, "re-upload a readable file"),
	)
}

// Regenerate rebuilds the group's merged artifact from its current uploads and
// linked certificates. When nothing survives assembly the previous artifact is
// removed and the returned result is empty; if that artifact is already in
// circulation it is kept and a validation error is returned instead.
func (e *Engine) Regenerate(ctx context.Context, groupID string) (*Result, error) {
	if _, err := e.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	docs, err := e.store.DocumentsWithContent(ctx, groupID)
	if err != nil {
		return nil, err
	}
	certs, err := e.store.CertificatesForGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	result, err := e.Assemble(ctx, groupID, docs, certs)
	if err != nil {
		return nil, err
	}
	logger := logging.WithContext(services.WithGroupID(ctx, groupID), e.logger)
	if result.Empty() {
		removed, err := e.store.DeleteMergedArtifact(ctx, groupID)
		if err != nil {
			if errors.Is(err, services.ErrInvalidState) {
				return nil, services.Wrap(services.ErrValidation, "merge", "regenerate",
					fmt.Sprintf("no readable fragments for group %q; circulated artifact left unchanged", groupID), nil)
			}
			return nil, err
		}
		logger.Info("merge produced no fragments",
			logging.Int("skipped", len(result.Skipped)),
			logging.Bool("artifact_removed", removed),
		)
		return result, nil
	}

	artifact, err := e.store.UpsertMergedArtifact(ctx, groupID, result.PDF, len(result.Fragments), e.now())
	if err != nil {
		return nil, err
	}
	result.Artifact = artifact
	logger.Info("merged artifact generated",
		logging.Int("fragments", len(result.Fragments)),
		logging.Int("pages", result.Pages),
		logging.Int("skipped", len(result.Skipped)),
		logging.Int("bytes", len(result.PDF)),
	)
	return result, nil
}

func isImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}
