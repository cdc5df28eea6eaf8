package httpx

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/alsseok01/babsang/internal/media"
)

// POST /api/images/upload (multipart "file")
func HandleUpload(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadBytes+1<<20)
		if err := r.ParseMultipartForm(media.MaxUploadBytes); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "image larger than 10MB"})
				return
			}
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "parse form: " + err.Error()})
			return
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "form file: " + err.Error()})
			return
		}
		defer file.Close()
		if hdr.Size > media.MaxUploadBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "image larger than 10MB"})
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "read file: " + err.Error()})
			return
		}
		ext, ctype, err := media.Sniff(data[:min(len(data), 512)], hdr.Filename)
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		url, err := app.Media.Save(r.Context(), media.ObjectName(time.Now(), hdr.Filename, ext), ctype, data)
		if err != nil {
			writeError(w, r, app, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}
