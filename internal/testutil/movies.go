package testutil

import (
	"fmt"
	"strconv"
	"strings"
)

// Movie is the item type used across package tests.
type Movie struct {
	ID    int    `json:"movie_id"`
	Title string `json:"title"`
}

// MovieKey returns the movie id as key.
func MovieKey(m Movie) string {
	return strconv.Itoa(m.ID)
}

// MatchTitle reports whether the title contains filter, ignoring case.
func MatchTitle(m Movie, filter string) bool {
	return strings.Contains(strings.ToLower(m.Title), strings.ToLower(filter))
}

// Movies returns n movies with ids 1..n titled "Movie <id>".
func Movies(n int) []Movie {
	out := make([]Movie, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, Movie{ID: i, Title: fmt.Sprintf("Movie %d", i)})
	}
	return out
}

// MovieIDs returns the ids of movies in order.
func MovieIDs(movies []Movie) []int {
	out := make([]int, 0, len(movies))
	for _, m := range movies {
		out = append(out, m.ID)
	}
	return out
}
