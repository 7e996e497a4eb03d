package httphandler

import (
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/ericfisherdev/keyvault/internal/domain/model"
	"github.com/ericfisherdev/keyvault/internal/domain/port/driven"
)

// Form field names accepted on create and update.
const (
	fieldWebsite      = "website"
	fieldName         = "name"
	fieldUsername     = "username"
	fieldEmail        = "email"
	fieldPassword     = "password"
	fieldNote         = "note"
	fieldAttachedFile = "attached_file"

	// legacyAttachedFile is the camelCase field name older clients send.
	legacyAttachedFile = "attachedFile"
)

const (
	maxJSONBody     = 1 << 20
	maxFormOverhead = 1 << 20
	multipartMemory = 1 << 20
)

// accountRequest is a decoded create or update body. Close releases the
// uploaded file and any temporary storage behind it.
type accountRequest struct {
	input  model.AccountInput
	upload *driven.Upload
	file   multipart.File
	form   *multipart.Form
}

func (req *accountRequest) Close() {
	if req.file != nil {
		_ = req.file.Close()
	}
	if req.form != nil {
		_ = req.form.RemoveAll()
	}
}

// parseAccountRequest decodes either a multipart form, which may carry a
// file in the attached_file field, or a JSON body.
func parseAccountRequest(w http.ResponseWriter, r *http.Request, maxUpload int64) (*accountRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		return parseMultipart(w, r, maxUpload)
	case "application/json", "":
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		var in model.AccountInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			return nil, bodyError(err)
		}
		return &accountRequest{input: in}, nil
	default:
		return nil, model.NewError(model.KindValidation, "unsupported content type "+mediaType)
	}
}

func parseMultipart(w http.ResponseWriter, r *http.Request, maxUpload int64) (*accountRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+maxFormOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, bodyError(err)
	}

	req := &accountRequest{
		form: r.MultipartForm,
		input: model.AccountInput{
			Website:  r.PostFormValue(fieldWebsite),
			Name:     r.PostFormValue(fieldName),
			Username: r.PostFormValue(fieldUsername),
			Email:    r.PostFormValue(fieldEmail),
			Password: r.PostFormValue(fieldPassword),
			Note:     r.PostFormValue(fieldNote),
		},
	}

	file, header, err := r.FormFile(fieldAttachedFile)
	if errors.Is(err, http.ErrMissingFile) {
		file, header, err = r.FormFile(legacyAttachedFile)
	}
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return req, nil
	case err != nil:
		req.Close()
		return nil, bodyError(err)
	}

	req.file = file
	if header.Size > maxUpload {
		req.Close()
		return nil, model.NewError(model.KindPayloadTooLarge, "Attached file is too large")
	}
	req.upload = &driven.Upload{Filename: header.Filename, Content: file}
	return req, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return model.WrapError(model.KindPayloadTooLarge, "Request body is too large", err)
	}
	return model.WrapError(model.KindValidation, "Malformed request body", err)
}
