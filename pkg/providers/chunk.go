// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package providers

// ChunkKind tags one stream event.
type ChunkKind string

// Stream chunk kinds.
const (
	// ChunkContent carries completion text.
	ChunkContent ChunkKind = "content"
	// ChunkThinking carries model-internal reasoning text.
	ChunkThinking ChunkKind = "thinking"
	// ChunkMetadata carries usage or other key/values, typically once
	// at stream end.
	ChunkMetadata ChunkKind = "metadata"
	// ChunkError terminates the stream after an upstream failure.
	ChunkError ChunkKind = "error"
)

// Chunk is one tagged stream event. Streams are finite and causal:
// chunks arrive in order, at most one Error chunk appears and it is
// always last.
type Chunk struct {
	Kind     ChunkKind
	Text     string
	Metadata map[string]any
	Err      error
}

// contentChunk is a convenience constructor.
func contentChunk(text string) Chunk {
	return Chunk{Kind: ChunkContent, Text: text}
}

func thinkingChunk(text string) Chunk {
	return Chunk{Kind: ChunkThinking, Text: text}
}

func metadataChunk(meta map[string]any) Chunk {
	return Chunk{Kind: ChunkMetadata, Metadata: meta}
}

func errorChunk(err error) Chunk {
	return Chunk{Kind: ChunkError, Err: err}
}
