package endpoints

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Nadiam75/snappify/internal/api"
	"github.com/Nadiam75/snappify/internal/engines"
	"github.com/Nadiam75/snappify/internal/imageio"
	"github.com/Nadiam75/snappify/internal/svcctx"
)

// BatchResponse is the response for POST /ocr/batch.
type BatchResponse struct {
	Success     bool                `json:"success"`
	TotalImages int                 `json:"total_images"`
	Results     []*engines.Response `json:"results"`
	ResultIDs   []string            `json:"result_ids,omitempty"`
}

// WriteText prints every image's text in order.
func (b *BatchResponse) WriteText(w io.Writer) error {
	for _, resp := range b.Results {
		if err := resp.WriteText(w); err != nil {
			return err
		}
	}
	return nil
}

// OCRBatchEndpoint handles POST /ocr/batch.
type OCRBatchEndpoint struct {
	// MaxUploadBytes bounds the request body
	MaxUploadBytes int64
}

var _ api.Endpoint = (*OCRBatchEndpoint)(nil)

func (e *OCRBatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/ocr/batch", e.handler
}

func (e *OCRBatchEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Recognize several images
//	@Description	Runs the selected OCR engines on each image. One envelope per image, in upload order; a file with an unsupported type gets a failed envelope
//	@Tags			ocr
//	@Accept			mpfd
//	@Produce		json
//	@Param			files	formData	file	true	"Images (at most the configured batch size)"
//	@Param			engines	query		string	false	"Comma-separated engine names"
//	@Param			models	query		string	false	"Alias of engines"
//	@Success		200		{object}	BatchResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		413		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/ocr/batch [post]
func (e *OCRBatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}
	if limit := orch.Dispatch().MaxBatch; len(files) > limit {
		WriteRequestError(w, engines.NewRequestError(engines.KindBatchTooLarge,
			fmt.Sprintf("Maximum %d files per batch", limit)))
		return
	}
	names, err := engineQuery(r)
	if err != nil {
		WriteRequestError(w, err)
		return
	}

	// Files that cannot be processed get a failed envelope in place.
	out := make([]*engines.Response, len(files))
	var (
		reqs  []engines.Request
		slots []int
	)
	uploadDir := svcctx.UploadDirFrom(ctx)
	for i, fh := range files {
		if err := imageio.CheckExtension(fh.Filename); err != nil {
			out[i] = engines.FailedResponse(fh.Filename, time.Now(), err.Error())
			continue
		}
		src, err := fh.Open()
		if err != nil {
			out[i] = engines.FailedResponse(fh.Filename, time.Now(), err.Error())
			continue
		}
		path, cleanup, err := imageio.SaveTemp(uploadDir, fh.Filename, src)
		src.Close()
		if err != nil {
			out[i] = engines.FailedResponse(fh.Filename, time.Now(), err.Error())
			continue
		}
		defer cleanup()
		reqs = append(reqs, engines.Request{ImageID: fh.Filename, ImagePath: path, Engines: names})
		slots = append(slots, i)
	}

	if len(reqs) > 0 {
		responses, err := orch.RunBatch(ctx, reqs)
		if err != nil {
			WriteRequestError(w, err)
			return
		}
		for j, resp := range responses {
			out[slots[j]] = resp
		}
	}

	batch := BatchResponse{Success: true, TotalImages: len(files), Results: out}
	for _, resp := range out {
		if id := persist(ctx, resp); id != "" {
			batch.ResultIDs = append(batch.ResultIDs, id)
		}
	}
	writeJSON(w, http.StatusOK, batch)
}

func (e *OCRBatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <image>...",
		Short: "Recognize several images in one request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engineList, _ := cmd.Flags().GetString("engines")
			client := api.NewClient(getServerURL())
			var resp BatchResponse
			if err := client.PostFiles(cmd.Context(), ocrPath("/ocr/batch", engineList), "files", args, &resp); err != nil {
				return err
			}
			return api.Output(&resp)
		},
	}
}
