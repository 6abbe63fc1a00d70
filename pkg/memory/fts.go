// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package memory

import (
	"context"
	"strings"
	"unicode"

	"github.com/loganrossus/loom/pkg/store"
)

// tokenize splits text into lowercase runs of letters and digits,
// dropping runs shorter than two characters.
func tokenize(text string) []string {
	var tokens []string
	var b strings.Builder

	flush := func() {
		if b.Len() >= 2 {
			tokens = append(tokens, b.String())
		}
		b.Reset()
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// uniqueTerms deduplicates a token list, preserving first occurrence.
func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	var out []string
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// postingKey builds the inverted index key. Terms contain only letters
// and digits, so "/" never collides.
func postingKey(sessionID, term, docID string) string {
	return sessionID + "/" + term + "/" + docID
}

// indexText writes postings for every distinct term in text, inside
// the caller's transaction so row and index commit together.
func indexText(tx store.Tx, bucket, sessionID, docID, text string) error {
	for _, term := range uniqueTerms(tokenize(text)) {
		if err := tx.Set(bucket, postingKey(sessionID, term, docID), []byte(docID)); err != nil {
			return err
		}
	}
	return nil
}

// searchIndex returns match counts per document for the query's terms
// within one session's slice of the index.
func searchIndex(ctx context.Context, s store.Store, bucket, sessionID, query string) (map[string]int, error) {
	matches := make(map[string]int)
	for _, term := range uniqueTerms(tokenize(query)) {
		pairs, err := s.List(ctx, bucket, sessionID+"/"+term+"/")
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			matches[string(p.Value)]++
		}
	}
	return matches, nil
}
