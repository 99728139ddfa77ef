// Package translation implements the text translation port on the Gemini
// API.
package translation
