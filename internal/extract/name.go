package extract

import "regexp"

// NameShape tags how an overloaded structured-format name field decomposed.
type NameShape int

// Name shapes in rule precedence order.
const (
	// ShapeTripContact is a tripcode wrapped in a contact link, no name.
	ShapeTripContact NameShape = iota + 1
	// ShapeContactName is a name wrapped in a contact link, optional tripcode.
	ShapeContactName
	// ShapePlain is a plain name without contact or tripcode.
	ShapePlain
	// ShapeAmbiguous is a plain name that ends in a tripcode-shaped suffix.
	ShapeAmbiguous
)

// String returns a short label for logs.
func (s NameShape) String() string {
	switch s {
	case ShapeTripContact:
		return "trip+contact"
	case ShapeContactName:
		return "contact+name"
	case ShapePlain:
		return "plain"
	case ShapeAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// ParsedName is the decomposed display-name field.
type ParsedName struct {
	Shape   NameShape
	Name    string
	Contact string
	Trip    string
}

const tripPattern = `![a-zA-Z0-9./]{10}|!(?:[a-zA-Z0-9./]{10})?![a-zA-Z0-9+/]{15}`

type nameRule struct {
	shape NameShape
	re    *regexp.Regexp
	build func(raw string, m []string) ParsedName
}

var nameRules = []nameRule{
	{
		shape: ShapeTripContact,
		re:    regexp.MustCompile(`(?s)^!<a href="mailto:([^"]*)">(` + tripPattern + `)</a>$`),
		build: func(_ string, m []string) ParsedName {
			return ParsedName{Contact: m[1], Trip: m[2]}
		},
	},
	{
		shape: ShapeContactName,
		re:    regexp.MustCompile(`(?s)^<a href="mailto:([^"]*)">(.*?)</a>(` + tripPattern + `)?$`),
		build: func(_ string, m []string) ParsedName {
			return ParsedName{Contact: m[1], Name: m[2], Trip: m[3]}
		},
	},
	{
		shape: ShapeAmbiguous,
		re:    regexp.MustCompile(`(?s)^.*?!(?:[a-zA-Z0-9./]{10}|(?:[a-zA-Z0-9./]{10})?![a-zA-Z0-9+/]{15})$`),
		build: func(raw string, _ []string) ParsedName {
			return ParsedName{Name: raw}
		},
	},
}

// ClassifyName decomposes a structured-format name field. Rules are tried in
// order; a name matching none of them is plain.
func ClassifyName(raw string) ParsedName {
	for _, rule := range nameRules {
		if m := rule.re.FindStringSubmatch(raw); m != nil {
			p := rule.build(raw, m)
			p.Shape = rule.shape
			return p
		}
	}
	return ParsedName{Shape: ShapePlain, Name: raw}
}
