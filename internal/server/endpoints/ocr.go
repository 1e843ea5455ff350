package endpoints

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Nadiam75/snappify/internal/api"
	"github.com/Nadiam75/snappify/internal/engines"
	"github.com/Nadiam75/snappify/internal/imageio"
	"github.com/Nadiam75/snappify/internal/svcctx"
)

// ResultIDHeader carries the ID of the persisted envelope, when saved.
const ResultIDHeader = "X-Result-ID"

// maxFormMemory is the multipart size kept in memory before spilling to disk.
const maxFormMemory = 32 << 20

// OCREndpoint handles POST /ocr.
type OCREndpoint struct {
	// MaxUploadBytes bounds the request body
	MaxUploadBytes int64
}

var _ api.Endpoint = (*OCREndpoint)(nil)

func (e *OCREndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/ocr", e.handler
}

func (e *OCREndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Recognize one image
//	@Description	Runs the selected OCR engines (every ready engine when none are named) on one image
//	@Tags			ocr
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	true	"Image (jpg, jpeg, png, bmp, tiff, webp)"
//	@Param			engines	query		string	false	"Comma-separated engine names"
//	@Param			models	query		string	false	"Alias of engines"
//	@Success		200		{object}	engines.Response
//	@Failure		400		{object}	ErrorResponse
//	@Failure		413		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/ocr [post]
func (e *OCREndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orch := svcctx.OrchestratorFrom(ctx)
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not initialized")
		return
	}

	if e.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, e.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		writeFormError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if err := imageio.CheckExtension(header.Filename); err != nil {
		WriteRequestError(w, err)
		return
	}
	names, err := engineQuery(r)
	if err != nil {
		WriteRequestError(w, err)
		return
	}

	path, cleanup, err := imageio.SaveTemp(svcctx.UploadDirFrom(ctx), header.Filename, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cleanup()

	resp, err := orch.Run(ctx, engines.Request{ImageID: header.Filename, ImagePath: path, Engines: names})
	if err != nil {
		WriteRequestError(w, err)
		return
	}

	if id := persist(ctx, resp); id != "" {
		w.Header().Set(ResultIDHeader, id)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *OCREndpoint) Command(getServerURL func() string) *cobra.Command {
	var engineList string
	cmd := &cobra.Command{
		Use:   "ocr <image>",
		Short: "Recognize one image",
		Long: `Upload an image and run OCR engines on it.

Without --engines every ready engine runs.

Examples:
  snappify api ocr receipt.png
  snappify api ocr receipt.png --engines easyocr,paddleocr`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp engines.Response
			if err := client.PostFiles(cmd.Context(), ocrPath("/ocr", engineList), "file", args, &resp); err != nil {
				return err
			}
			return api.Output(&resp)
		},
	}
	cmd.PersistentFlags().StringVarP(&engineList, "engines", "e", "", "Comma-separated engine names")
	return cmd
}

// engineQuery reads the engine filter from ?engines=, falling back to the
// older ?models= name.
func engineQuery(r *http.Request) ([]engines.Name, error) {
	q := r.URL.Query()
	raw := q.Get("engines")
	if raw == "" {
		raw = q.Get("models")
	}
	return engines.ParseNames(raw)
}

func ocrPath(path, engineList string) string {
	engineList = strings.TrimSpace(engineList)
	if engineList == "" {
		return path
	}
	return path + "?" + url.Values{"engines": {engineList}}.Encode()
}

func writeFormError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	writeError(w, http.StatusBadRequest, "failed to parse form: "+err.Error())
}

// persist saves resp when a results store is configured. Failures are
// logged and never fail the request.
func persist(ctx context.Context, resp *engines.Response) string {
	store := svcctx.ResultStoreFrom(ctx)
	if store == nil {
		return ""
	}
	id, err := store.Save(ctx, resp)
	if err != nil {
		svcctx.LoggerFrom(ctx).Error("failed to persist result", "image", resp.ImageIdentifier, "error", err)
		return ""
	}
	return id
}
