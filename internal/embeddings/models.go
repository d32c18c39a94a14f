package embeddings

// knownDimensions lists output sizes for models docsearch is commonly run with.
var knownDimensions = map[string]int{
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"fast-all-MiniLM-L6-v2":                  384,
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"fast-bge-small-en-v1.5":                 384,
	"fast-bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"fast-bge-base-en-v1.5":                  768,
	"fast-bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"fast-bge-small-zh-v1.5":                 512,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
}

// ModelDimension returns the embedding size of a well-known model.
func ModelDimension(model string) (int, bool) {
	dim, ok := knownDimensions[model]
	return dim, ok
}

// usesInstructionPrefixes reports whether a model was trained with
// "query: " / "passage: " prefixes. Sentence-transformers models embed
// raw text.
func usesInstructionPrefixes(model string) bool {
	switch model {
	case "sentence-transformers/all-MiniLM-L6-v2", "fast-all-MiniLM-L6-v2":
		return false
	}
	return true
}
