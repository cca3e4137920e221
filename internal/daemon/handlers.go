package daemon

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"cosflow/internal/api"
	"cosflow/internal/evaluation"
	"cosflow/internal/lifecycle"
	"cosflow/internal/services"
	"cosflow/internal/store"
)

// multipartMemory is the in-memory share of a multipart form; the rest spills to disk.
const multipartMemory = 32 << 20

type handlers struct {
	daemon  *Daemon
	logger  *slog.Logger
	maxBody int64
}

type createGroupRequest struct {
	ID                   string  `json:"id"`
	OperatorCertificates []int64 `json:"operatorCertificates"`
}

type revisionRequest struct {
	Description string `json:"description"`
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, h.logger, err)
}

func actor(r *http.Request) int64 {
	if claims := claimsFrom(r.Context()); claims != nil {
		return claims.UserID
	}
	return 0
}

func groupParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "group"))
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, services.InvalidField(name, fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.daemon.store.Ping(r.Context()); err != nil {
		h.fail(w, r, services.Wrap(services.ErrTransient, "http", "health", "database unavailable", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.daemon.Status(r.Context()))
}

func (h *handlers) users(w http.ResponseWriter, r *http.Request) {
	var roles []store.Role
	for _, raw := range r.URL.Query()["role"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				h.fail(w, r, services.InvalidField("role", fmt.Sprintf("invalid role %q", part)))
				return
			}
			roles = append(roles, store.Role(n))
		}
	}
	users, err := h.daemon.reports.UsersByRoles(r.Context(), roles)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *handlers) myAssignments(w http.ResponseWriter, r *http.Request) {
	rows, err := h.daemon.reports.AssignedEvaluations(r.Context(), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) available(w http.ResponseWriter, r *http.Request) {
	rows, err := h.daemon.reports.AvailableForEvaluation(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) circulations(w http.ResponseWriter, r *http.Request) {
	rows, err := h.daemon.reports.Circulations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) listGroups(w http.ResponseWriter, r *http.Request) {
	rows, err := h.daemon.reports.ListGroups(r.Context(), r.URL.Query().Get("since"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) awaitingUploads(w http.ResponseWriter, r *http.Request) {
	rows, err := h.daemon.reports.AwaitingUploads(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) groupDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.daemon.reports.GroupDetail(r.Context(), groupParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *handlers) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, 1<<20), &req); err != nil {
		h.fail(w, r, err)
		return
	}
	group, created, err := h.daemon.lifecycle.CreateOrTouch(r.Context(), req.ID, actor(r), req.OperatorCertificates)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, api.FromGroup(group))
}

func (h *handlers) patchGroup(w http.ResponseWriter, r *http.Request) {
	patch, err := lifecycle.DecodeGroupPatch(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	group, err := h.daemon.lifecycle.ApplyPatch(r.Context(), groupParam(r), actor(r), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromGroup(group))
}

// uploadDocuments accepts a multipart form whose file fields are named after
// the document type (COS, PFM, WGS, MO, OTHERS).
func (h *handlers) uploadDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, services.InvalidField("body", fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)))
			return
		}
		h.fail(w, r, badRequest("invalid multipart form", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	fields := make([]string, 0, len(r.MultipartForm.File))
	for field := range r.MultipartForm.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var uploads []lifecycle.Upload
	for _, field := range fields {
		for _, fh := range r.MultipartForm.File[field] {
			content, err := readPart(fh)
			if err != nil {
				h.fail(w, r, badRequest("read "+fh.Filename, err))
				return
			}
			uploads = append(uploads, lifecycle.Upload{
				DocType:  field,
				FileName: fh.Filename,
				MimeType: fh.Header.Get("Content-Type"),
				Content:  content,
			})
		}
	}

	result, err := h.daemon.lifecycle.UploadDocuments(r.Context(), groupParam(r), actor(r), uploads)
	if result == nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.FromUploadResult(result))
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (h *handlers) regenerate(w http.ResponseWriter, r *http.Request) {
	result, err := h.daemon.lifecycle.Regenerate(r.Context(), groupParam(r), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report := api.FromMergeResult(result)
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) documentFile(w http.ResponseWriter, r *http.Request) {
	docID, err := idParam(r, "doc")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.daemon.store.GetDocument(r.Context(), groupParam(r), docID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeFile(w, doc.MimeType, doc.FileName, doc.Content)
}

func (h *handlers) mergedFile(w http.ResponseWriter, r *http.Request) {
	group := groupParam(r)
	artifact, err := h.daemon.store.GetMergedArtifact(r.Context(), group)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(artifact.Content) == 0 {
		h.fail(w, r, services.Wrap(services.ErrNotFound, "http", "merged file", "merged artifact has no content", nil))
		return
	}
	writeFile(w, "application/pdf", group+".pdf", artifact.Content)
}

func (h *handlers) certificateFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "cert")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cert, err := h.daemon.store.GetCertificate(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pdf, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cert.MergedPDF))
	if err != nil || len(pdf) == 0 {
		h.fail(w, r, services.Wrap(services.ErrNotFound, "http", "certificate file", fmt.Sprintf("certificate %d has no readable content", id), err))
		return
	}
	writeFile(w, "application/pdf", cert.NIK+".pdf", pdf)
}

func (h *handlers) circulationDetail(w http.ResponseWriter, r *http.Request) {
	circ, err := h.daemon.reports.CirculationDetail(r.Context(), groupParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, circ)
}

func (h *handlers) startCirculation(w http.ResponseWriter, r *http.Request) {
	var assignments evaluation.Assignments
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, 1<<20), &assignments); err != nil {
		h.fail(w, r, err)
		return
	}
	group := groupParam(r)
	if _, err := h.daemon.evaluation.StartCirculation(r.Context(), group, actor(r), assignments); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeCirculation(w, r, group, http.StatusCreated)
}

func (h *handlers) completeTask(w http.ResponseWriter, r *http.Request) {
	group := groupParam(r)
	if _, err := h.daemon.evaluation.CompleteTask(r.Context(), group, actor(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeCirculation(w, r, group, http.StatusOK)
}

func (h *handlers) writeCirculation(w http.ResponseWriter, r *http.Request, group string, status int) {
	circ, err := h.daemon.reports.CirculationDetail(r.Context(), group)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, circ)
}

func (h *handlers) revisions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.daemon.reports.Revisions(r.Context(), groupParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// requestRevision accepts JSON {"description"} or a multipart form with a
// description field and an optional file.
func (h *handlers) requestRevision(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var in evaluation.RevisionInput
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			h.fail(w, r, badRequest("invalid multipart form", err))
			return
		}
		defer r.MultipartForm.RemoveAll()
		in.Description = r.FormValue("description")
		if files := r.MultipartForm.File["file"]; len(files) > 0 {
			content, err := readPart(files[0])
			if err != nil {
				h.fail(w, r, badRequest("read "+files[0].Filename, err))
				return
			}
			in.FileName = files[0].Filename
			in.MimeType = files[0].Header.Get("Content-Type")
			in.Content = content
		}
	} else {
		var req revisionRequest
		if err := decodeJSON(r.Body, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		in.Description = req.Description
	}

	rev, err := h.daemon.evaluation.RequestRevision(r.Context(), groupParam(r), actor(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.FromRevision(*rev))
}

func (h *handlers) resolveRevision(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "rev")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rev, err := h.daemon.evaluation.ResolveRevision(r.Context(), id, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromRevision(*rev))
}

func (h *handlers) revisionFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "rev")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rev, err := h.daemon.store.GetRevision(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !rev.HasFile || len(rev.FileContent) == 0 {
		h.fail(w, r, services.Wrap(services.ErrNotFound, "http", "revision file", fmt.Sprintf("revision %d has no attachment", id), nil))
		return
	}
	writeFile(w, rev.MimeType, rev.FileName, rev.FileContent)
}
