// Package pdfwriter lays plain text out as a minimal PDF 1.4 document and
// counts the pages of existing PDFs.
//
// Output uses the standard Helvetica font with WinAnsiEncoding, so no font
// program is embedded and any conforming reader (including print spoolers)
// can render it. Characters outside Windows-1252 print as '?'.
package pdfwriter
