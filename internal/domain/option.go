package domain

// OptionKind tags which selection level an Option belongs to.
type OptionKind int

const (
	KindCompany OptionKind = iota
	KindProject
	KindSite
	KindWorkDescription
	KindLabour
	KindCategory
)

func (k OptionKind) String() string {
	switch k {
	case KindCompany:
		return "company"
	case KindProject:
		return "project"
	case KindSite:
		return "site"
	case KindWorkDescription:
		return "work description"
	case KindLabour:
		return "labour"
	case KindCategory:
		return "category"
	default:
		return "unknown"
	}
}

// Option is a picker row. The label is resolved once from the typed record so
// render code never inspects payload keys.
type Option struct {
	Kind  OptionKind
	ID    ID
	Label string
}

// Title implements list.Item for the picker.
func (o Option) Title() string { return o.Label }

// Description implements list.Item for the picker.
func (o Option) Description() string { return "" }

// FilterValue implements list.Item for the picker.
func (o Option) FilterValue() string { return o.Label }

// CompanyOptions converts companies into picker rows.
func CompanyOptions(companies []Company) []Option {
	out := make([]Option, 0, len(companies))
	for _, c := range companies {
		out = append(out, Option{Kind: KindCompany, ID: c.ID, Label: c.Name})
	}
	return out
}

// ProjectOptions converts projects into picker rows.
func ProjectOptions(projects []Project) []Option {
	out := make([]Option, 0, len(projects))
	for _, p := range projects {
		out = append(out, Option{Kind: KindProject, ID: p.ID, Label: p.Name})
	}
	return out
}

// SiteOptions converts sites into picker rows.
func SiteOptions(sites []Site) []Option {
	out := make([]Option, 0, len(sites))
	for _, s := range sites {
		out = append(out, Option{Kind: KindSite, ID: s.ID, Label: s.Label()})
	}
	return out
}

// WorkDescriptionOptions converts work descriptions into picker rows.
func WorkDescriptionOptions(descs []WorkDescription) []Option {
	out := make([]Option, 0, len(descs))
	for _, d := range descs {
		out = append(out, Option{Kind: KindWorkDescription, ID: d.ID, Label: d.Name})
	}
	return out
}

// LabourOptions converts labourers into picker rows.
func LabourOptions(labours []Labour) []Option {
	out := make([]Option, 0, len(labours))
	for _, l := range labours {
		out = append(out, Option{Kind: KindLabour, ID: l.ID, Label: l.FullName})
	}
	return out
}

// CategoryOptions converts category names into picker rows; the ID is the
// name itself.
func CategoryOptions(names []string) []Option {
	out := make([]Option, 0, len(names))
	for _, n := range names {
		out = append(out, Option{Kind: KindCategory, ID: ID(n), Label: n})
	}
	return out
}
