package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/docsearch/internal/pipeline"
	"github.com/fyrsmithlabs/docsearch/internal/reader"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const (
	toolIngest = "ingest_documents"
	toolSearch = "search_documents"
	toolList   = "list_documents"
)

func (s *Server) registerTools() {
	s.registerIngestTool()
	s.registerSearchTool()
	s.registerListTool()
}

// toolError logs a failed call and returns an error whose text is the
// client-facing message.
func (s *Server) toolError(tool string, err error) error {
	s.logger.Warn("tool call failed",
		zap.String("tool", tool),
		zap.String("kind", pipeline.KindOf(err).String()),
		zap.Error(err),
	)
	var perr *pipeline.Error
	if errors.As(err, &perr) {
		return perr
	}
	return pipeline.Unexpected(tool, err)
}

// ===== INGEST =====

type fileInput struct {
	Filename string `json:"filename" jsonschema:"required,Name of the uploaded file"`
	Content  string `json:"content" jsonschema:"required,File content. Plain text unless base64 is set"`
	Base64   bool   `json:"base64,omitempty" jsonschema:"Content is base64-encoded raw bytes. Bytes that are not valid UTF-8 are rejected"`
}

type ingestInput struct {
	Files []fileInput `json:"files" jsonschema:"required,Files to ingest as one batch"`
}

type ingestOutput struct {
	IDs     []string `json:"ids" jsonschema:"Generated record ids, in input order"`
	BatchID string   `json:"batch_id" jsonschema:"Id shared by every record of this batch"`
}

func (s *Server) registerIngestTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolIngest,
		Description: "Embed and store text files. The batch is stored entirely or not at all",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ingestInput) (res *mcp.CallToolResult, out ingestOutput, err error) {
		done := s.metrics.track(ctx, toolIngest)
		defer func() { done(err) }()

		files := make([]reader.UploadedFile, 0, len(args.Files))
		for _, f := range args.Files {
			content := []byte(f.Content)
			if f.Base64 {
				content, err = base64.StdEncoding.DecodeString(f.Content)
				if err != nil {
					return nil, ingestOutput{}, s.toolError(toolIngest, pipeline.InvalidRequest(
						"ingest", fmt.Sprintf("Invalid base64 content for '%s'.", f.Filename), err))
				}
			}
			files = append(files, reader.UploadedFile{Filename: f.Filename, Content: content})
		}

		result, err := s.service.Ingest(ctx, files)
		if err != nil {
			return nil, ingestOutput{}, s.toolError(toolIngest, err)
		}

		out = ingestOutput{IDs: result.IDs, BatchID: result.BatchID}
		if out.IDs == nil {
			out.IDs = []string{}
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Stored %d document(s) in batch %s", len(out.IDs), out.BatchID)},
			},
		}, out, nil
	})
}

// ===== SEARCH =====

type searchInput struct {
	SearchText string `json:"search_text" jsonschema:"required,Text to search for"`
}

type searchOutput struct {
	Results []pipeline.QueryResult `json:"results" jsonschema:"Nearest documents, closest first. score is cosine distance"`
}

func (s *Server) registerSearchTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolSearch,
		Description: "Semantic search over stored documents",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args searchInput) (res *mcp.CallToolResult, out searchOutput, err error) {
		done := s.metrics.track(ctx, toolSearch)
		defer func() { done(err) }()

		results, err := s.service.Query(ctx, args.SearchText)
		if err != nil {
			return nil, searchOutput{}, s.toolError(toolSearch, err)
		}
		if results == nil {
			results = []pipeline.QueryResult{}
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Found %d result(s)", len(results))},
			},
		}, searchOutput{Results: results}, nil
	})
}

// ===== LIST =====

type listInput struct {
	Offset int `json:"offset,omitempty" jsonschema:"Number of documents to skip"`
	Limit  int `json:"limit,omitempty" jsonschema:"Maximum documents to return (0: all)"`
}

type listOutput struct {
	Documents []pipeline.ListedDocument `json:"documents" jsonschema:"Stored documents ordered by ingestion time"`
}

func (s *Server) registerListTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolList,
		Description: "List stored documents",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listInput) (res *mcp.CallToolResult, out listOutput, err error) {
		done := s.metrics.track(ctx, toolList)
		defer func() { done(err) }()

		docs, err := s.service.List(ctx, pipeline.ListOptions{Offset: args.Offset, Limit: args.Limit})
		if err != nil {
			return nil, listOutput{}, s.toolError(toolList, err)
		}
		if docs == nil {
			docs = []pipeline.ListedDocument{}
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Listed %d document(s)", len(docs))},
			},
		}, listOutput{Documents: docs}, nil
	})
}
