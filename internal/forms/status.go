package forms

// StatusEntry describes one registration status code.
type StatusEntry struct {
	Code         string `json:"code" yaml:"code"`
	FriendlyName string `json:"friendly_name" yaml:"friendly_name"`
	HelpText     string `json:"help_text" yaml:"help_text"`
	Editable     bool   `json:"editable" yaml:"editable"`
}

// UnknownStatus is returned for codes the table does not know. Unknown
// statuses stay user-editable so a bad code never locks an applicant out.
var UnknownStatus = StatusEntry{
	Code:         "x",
	FriendlyName: "Unknown",
	HelpText:     "Your application is marked with a status we don't recognize. It's probably temporary; contact the organizers if it persists.",
	Editable:     true,
}

// StatusTable maps status codes to their entries. Built once from config
// at startup, never mutated afterwards.
type StatusTable struct {
	order  []string
	byCode map[string]StatusEntry
}

func NewStatusTable(entries []StatusEntry) StatusTable {
	t := StatusTable{byCode: make(map[string]StatusEntry, len(entries))}
	for _, e := range entries {
		if _, seen := t.byCode[e.Code]; seen {
			continue
		}
		t.order = append(t.order, e.Code)
		t.byCode[e.Code] = e
	}
	return t
}

// Lookup never fails; unrecognized codes map to UnknownStatus.
func (t StatusTable) Lookup(code string) StatusEntry {
	if e, ok := t.byCode[code]; ok {
		return e
	}
	return UnknownStatus
}

// Has reports whether code is a recognized status.
func (t StatusTable) Has(code string) bool {
	_, ok := t.byCode[code]
	return ok
}

// Entries returns all entries in configuration order.
func (t StatusTable) Entries() []StatusEntry {
	res := make([]StatusEntry, 0, len(t.order))
	for _, c := range t.order {
		res = append(res, t.byCode[c])
	}
	return res
}
