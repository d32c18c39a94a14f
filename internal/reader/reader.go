// Package reader turns uploaded file bytes into text documents.
package reader

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"unicode/utf8"
)

// ErrFileTooLarge indicates an upload part over the per-file size limit.
var ErrFileTooLarge = errors.New("file too large")

// UploadedFile is one file as received from a client.
type UploadedFile struct {
	Filename string
	Content  []byte
}

// Document is a decoded upload.
type Document struct {
	Filename string
	Text     string
}

// DecodeError reports a file whose content is not valid UTF-8.
type DecodeError struct {
	Filename string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("Cannot decode '%s'.", e.Filename)
}

// FileError reports an upload part that could not be read.
type FileError struct {
	Filename string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("reading %q: %v", e.Filename, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Decode decodes every file as strict UTF-8, in order. The first file that
// fails aborts the batch with a *DecodeError naming it. A byte order mark
// is kept as part of the text, and an empty file decodes to "".
func Decode(files []UploadedFile) ([]Document, error) {
	docs := make([]Document, 0, len(files))
	for _, f := range files {
		if !utf8.Valid(f.Content) {
			return nil, &DecodeError{Filename: f.Filename}
		}
		docs = append(docs, Document{Filename: f.Filename, Text: string(f.Content)})
	}
	return docs, nil
}

// ReadMultipart reads upload parts into memory. maxFileBytes <= 0 disables
// the per-file limit. Oversize parts fail with ErrFileTooLarge; any other
// failure is a *FileError. Filenames are taken verbatim from each part's
// Content-Disposition, directory components included.
func ReadMultipart(headers []*multipart.FileHeader, maxFileBytes int64) ([]UploadedFile, error) {
	files := make([]UploadedFile, 0, len(headers))
	for _, h := range headers {
		name := partFilename(h)
		if maxFileBytes > 0 && h.Size > maxFileBytes {
			return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrFileTooLarge, name, maxFileBytes)
		}
		content, err := readPart(h, name, maxFileBytes)
		if err != nil {
			return nil, err
		}
		files = append(files, UploadedFile{Filename: name, Content: content})
	}
	return files, nil
}

// partFilename returns the client-supplied name. FileHeader.Filename has
// already been reduced to its base name by mime/multipart.
func partFilename(h *multipart.FileHeader) string {
	_, params, err := mime.ParseMediaType(h.Header.Get("Content-Disposition"))
	if err == nil && params["filename"] != "" {
		return params["filename"]
	}
	return h.Filename
}

func readPart(h *multipart.FileHeader, name string, maxFileBytes int64) ([]byte, error) {
	f, err := h.Open()
	if err != nil {
		return nil, &FileError{Filename: name, Err: err}
	}
	defer f.Close()

	var r io.Reader = f
	if maxFileBytes > 0 {
		r = io.LimitReader(f, maxFileBytes+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, &FileError{Filename: name, Err: err}
	}
	if maxFileBytes > 0 && int64(len(content)) > maxFileBytes {
		return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrFileTooLarge, name, maxFileBytes)
	}
	return content, nil
}
