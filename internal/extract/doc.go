// Package extract implements the two content extractors: the structured
// (JSON) extractor with its tripcode disambiguation step, and the markup
// (HTML) extractor. Both satisfy board.Extractor.
package extract
