// Package gateway - upload.go serves the upload form and forwards multipart uploads.
//
// DESIGN: The legacy client cannot build multipart bodies, so it opens /upload in a
// browser view. The form posts back to /api/v9/channels/{channel}/upload, which
// re-encodes at most one file plus optional text as a single upstream POST.
package gateway

import (
	"errors"
	"html/template"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/liteproxy/liteproxy/internal/config"
	"github.com/liteproxy/liteproxy/internal/upstream"
)

// uploadFileField is the form field carrying the attachment.
const uploadFileField = "files"

var errUnexpectedFiles = errors.New(`upload accepts one file in the "files" field`)

var uploadFormTmpl = template.Must(template.New("upload").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Upload</title></head>
<body>
<form action="{{.Action}}" method="post" enctype="multipart/form-data">
<input type="hidden" name="token" value="{{.Token}}">
<input type="file" name="` + uploadFileField + `"><br>
<textarea name="content" rows="4" cols="30"></textarea><br>
<input type="submit" value="Send">
</form>
</body>
</html>
`))

var uploadResultTmpl = template.Must(template.New("result").Parse(
	`<p>{{.Message}}</p><a href="{{.Again}}">Send another</a>`))

// handleUploadForm renders the upload page for ?channel=&token=.
func (g *Gateway) handleUploadForm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel, token := q.Get("channel"), q.Get("token")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if channel == "" || token == "" {
		_, _ = w.Write([]byte("<p>Token or destination channel not defined</p>"))
		return
	}

	data := struct {
		Action string
		Token  string
	}{
		Action: APIPrefix + "/channels/" + url.PathEscape(channel) + "/upload",
		Token:  token,
	}
	if err := uploadFormTmpl.Execute(w, data); err != nil {
		log.Error().Err(err).Msg("render upload form")
	}
}

// handleUpload forwards a multipart upload as one upstream message POST.
func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	pr := g.beginRequest(r, http.MethodPost, "/channels/"+url.PathEscape(channel)+"/messages")

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxUploadSize)
	if err := r.ParseMultipartForm(config.UploadMemoryLimit); err != nil {
		g.badRequest(w, pr, "Invalid upload")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	header, err := singleFile(r.MultipartForm)
	if err != nil {
		g.badRequest(w, pr, err.Error())
		return
	}

	var content *string
	if vals, ok := r.MultipartForm.Value["content"]; ok && len(vals) > 0 {
		content = &vals[0]
	}

	var file *upstream.File
	if header != nil {
		f, err := header.Open()
		if err != nil {
			g.handleError(w, pr, err)
			return
		}
		defer f.Close()
		file = &upstream.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        f,
		}
	}

	var formToken string
	if vals := r.MultipartForm.Value["token"]; len(vals) > 0 {
		formToken = vals[0]
	}
	pr.Credential = extractCredential(r, formToken)

	fwdStart := time.Now()
	resp, err := g.client.Upload(r.Context(), pr.UpstreamPath, pr.Credential.Token, file, content)
	pr.ForwardLatency = time.Since(fwdStart)
	if err != nil {
		g.handleError(w, pr, err)
		return
	}
	pr.UpstreamStatus = resp.Status
	pr.UpstreamBytes = len(resp.Body)

	msg := "Message sent!"
	if file != nil {
		msg = "File sent!"
	}
	again := "/upload?" + url.Values{"channel": {channel}, "token": {pr.Credential.Token}}.Encode()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	cw := &countingWriter{w: w}
	if err := uploadResultTmpl.Execute(cw, struct{ Message, Again string }{msg, again}); err != nil {
		log.Error().Err(err).Msg("render upload result")
	}
	g.finishRequest(pr, http.StatusOK, cw.n, "")
}

// singleFile returns the lone file in the form, nil when there is none. Files under any
// other field name, or more than one file, are rejected.
func singleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	var found *multipart.FileHeader
	for field, headers := range form.File {
		if field != uploadFileField || len(headers) > 1 || (found != nil && len(headers) > 0) {
			return nil, errUnexpectedFiles
		}
		if len(headers) == 1 {
			found = headers[0]
		}
	}
	return found, nil
}

type countingWriter struct {
	w http.ResponseWriter
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}
