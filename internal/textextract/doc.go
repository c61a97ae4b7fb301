// Package textextract pulls plain text out of documents for the degraded
// conversion path. It is deliberately coarse: layout, images and styling are
// dropped and only readable text survives.
package textextract
