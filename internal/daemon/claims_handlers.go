package daemon

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"lostfound/internal/api"
	"lostfound/internal/claims"
	"lostfound/internal/services"
)

// maxFieldBytes bounds plain form fields in evidence uploads.
const maxFieldBytes = 1024

type evidenceForm struct {
	identityID  string
	foundItemID int64
	uploads     []claims.Upload
}

func (s *apiServer) handleUploadEvidence(w http.ResponseWriter, r *http.Request) {
	form, err := s.readEvidenceForm(w, r)
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	ctx := services.WithOwnerID(r.Context(), form.identityID)
	result, err := s.daemon.ledger.UploadEvidence(ctx, form.identityID, form.uploads, form.foundItemID)
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	if form.foundItemID > 0 {
		s.daemon.notifyClaimLinked(form.identityID, result)
	}
	if result.Stored == nil {
		result.Stored = []claims.EvidenceImage{}
	}
	if result.Skipped == nil {
		result.Skipped = []claims.SkippedUpload{}
	}
	s.writeJSON(w, http.StatusOK, result)
}

// readEvidenceForm streams the multipart body so oversized files are cut at
// max_file_bytes+1 and the ledger can skip them without buffering the rest.
func (s *apiServer) readEvidenceForm(w http.ResponseWriter, r *http.Request) (evidenceForm, error) {
	var form evidenceForm
	limits := s.daemon.cfg.Evidence
	r.Body = http.MaxBytesReader(w, r.Body, limits.MaxRequestBytes)

	reader, err := r.MultipartReader()
	if err != nil {
		return form, fmt.Errorf("%w: expected multipart/form-data: %v", services.ErrValidation, err)
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return form, multipartError(err)
		}
		if err := s.readEvidencePart(part, limits.MaxFileBytes, &form); err != nil {
			part.Close()
			return form, err
		}
		part.Close()
	}
	if strings.TrimSpace(form.identityID) == "" {
		return form, fmt.Errorf("%w: identityId is required", services.ErrValidation)
	}
	return form, nil
}

func (s *apiServer) readEvidencePart(part *multipart.Part, maxFile int64, form *evidenceForm) error {
	switch part.FormName() {
	case "identityId":
		value, err := readField(part)
		if err != nil {
			return err
		}
		form.identityID = value
	case "foundItemId":
		value, err := readField(part)
		if err != nil {
			return err
		}
		id, err := api.ParseFoundItemID(value)
		if err != nil {
			return err
		}
		form.foundItemID = id
	case "images", "images[]", "image":
		if part.FileName() == "" {
			_, _ = io.Copy(io.Discard, part)
			return nil
		}
		data, err := io.ReadAll(io.LimitReader(part, maxFile+1))
		if err != nil {
			return multipartError(err)
		}
		// drain the remainder of an oversized file
		if _, err := io.Copy(io.Discard, part); err != nil {
			return multipartError(err)
		}
		form.uploads = append(form.uploads, claims.Upload{Name: part.FileName(), Data: data})
	default:
		if _, err := io.Copy(io.Discard, part); err != nil {
			return multipartError(err)
		}
	}
	return nil
}

func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", multipartError(err)
	}
	if len(data) > maxFieldBytes {
		return "", fmt.Errorf("%w: form field %s too long", services.ErrValidation, part.FormName())
	}
	return strings.TrimSpace(string(data)), nil
}

func multipartError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errRequestTooLarge
	}
	return fmt.Errorf("%w: malformed multipart body: %v", services.ErrValidation, err)
}

func (s *apiServer) handleListClaims(w http.ResponseWriter, _ *http.Request) {
	list := s.daemon.ledger.ListClaims()
	if list == nil {
		list = []claims.Claim{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *apiServer) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("identityId")
	claim, ok := s.daemon.ledger.Claim(owner)
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: %s", claims.ErrClaimNotFound, owner), 0)
		return
	}
	s.writeJSON(w, http.StatusOK, claim)
}

func (s *apiServer) handleDeleteClaim(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.PathValue("identityId"))
	ctx := services.WithOwnerID(r.Context(), owner)
	if err := s.daemon.ledger.DeleteClaim(ctx, owner); err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": owner})
}

func (s *apiServer) handleEvidenceFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	file, err := s.daemon.ledger.OpenEvidence(name)
	if err != nil {
		s.writeError(w, r, err, 0)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrStorage, "api", "serve evidence", "stat evidence file", err), 0)
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), file)
}
