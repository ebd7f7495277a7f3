package render

var (
	defaultGlyphs = []rune("  .,:-;+=*%#@▓▒░█▚▞▛▜▙▟▘▝▗▖▞▚╱╲╳╋╬═║╔╗╚╝▤▥▧▨▩▦")
	boxGlyphs     = []rune(" ░▒▓█▚▞▛▜▙▟")
	lineGlyphs    = []rune(" `.-=+*/\\|╱╲╳╔╗╚╝═║╬")
	sparkGlyphs   = []rune("  ´`^\"~:;*+×•¤°oO@#█")
)

// Glyphs returns the characters used to map luminance onto cells, darkest first.
func Glyphs(name string) []rune {
	switch name {
	case "box":
		return boxGlyphs
	case "lines":
		return lineGlyphs
	case "spark":
		return sparkGlyphs
	default:
		return defaultGlyphs
	}
}

// GlyphSetNames returns all glyph set identifiers.
func GlyphSetNames() []string {
	return []string{"default", "box", "lines", "spark"}
}
