package book

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"lendingapi/internal/apperr"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type SortField string

const (
	SortByTitle     SortField = "title"
	SortByCreatedAt SortField = "createdAt"
)

// ListParams are the raw listing inputs. Zero values select the defaults.
type ListParams struct {
	Page          int
	PageSize      int
	Query         string
	SortBy        SortField
	SortDirection string
	Status        Status
}

// Plan is a validated listing request, independent of the storage engine.
type Plan struct {
	Page     int
	PageSize int
	Query    string
	SortBy   SortField
	Desc     bool
	Status   Status
}

type Pagination struct {
	TotalCount  int `json:"totalCount"`
	TotalPages  int `json:"totalPages"`
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
}

// ParseListParams reads listing inputs from URL query parameters. Present but
// malformed values fail instead of falling back to defaults.
func ParseListParams(v url.Values) (ListParams, error) {
	var p ListParams
	var err error
	if p.Page, err = intParam(v, "page"); err != nil {
		return ListParams{}, err
	}
	if p.PageSize, err = intParam(v, "pageSize"); err != nil {
		return ListParams{}, err
	}
	p.Query = v.Get("query")
	if p.Query == "" {
		p.Query = v.Get("q")
	}
	p.SortBy = SortField(v.Get("sortBy"))
	p.SortDirection = v.Get("sortDirection")
	if s := v.Get("status"); s != "" {
		if p.Status, err = ParseStatus(s); err != nil {
			return ListParams{}, err
		}
	}
	return p, nil
}

func intParam(v url.Values, name string) (int, error) {
	raw, ok := v[name]
	if !ok || len(raw) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw[0]))
	if err != nil || n < 1 {
		return 0, apperr.FieldValidation(name, "%s must be a positive integer", name)
	}
	return n, nil
}

// Plan applies defaults and validates the parameters.
func (p ListParams) Plan() (Plan, error) {
	out := Plan{
		Page:     p.Page,
		PageSize: p.PageSize,
		Query:    strings.TrimSpace(p.Query),
		SortBy:   p.SortBy,
		Desc:     true,
		Status:   p.Status,
	}
	switch {
	case out.Page == 0:
		out.Page = DefaultPage
	case out.Page < 1:
		return Plan{}, apperr.FieldValidation("page", "page must be at least 1")
	}
	switch {
	case out.PageSize == 0:
		out.PageSize = DefaultPageSize
	case out.PageSize < 1 || out.PageSize > MaxPageSize:
		return Plan{}, apperr.FieldValidation("pageSize", "pageSize must be between 1 and %d", MaxPageSize)
	}
	switch out.SortBy {
	case "":
		out.SortBy = SortByCreatedAt
	case SortByTitle, SortByCreatedAt:
	default:
		return Plan{}, apperr.FieldValidation("sortBy", "sortBy must be title or createdAt")
	}
	switch strings.ToLower(p.SortDirection) {
	case "", "desc":
	case "asc":
		out.Desc = false
	default:
		return Plan{}, apperr.FieldValidation("sortDirection", "sortDirection must be asc or desc")
	}
	if out.Status != "" {
		if _, err := ParseStatus(string(out.Status)); err != nil {
			return Plan{}, err
		}
	}
	return out, nil
}

func (p Plan) Limit() int  { return p.PageSize }
func (p Plan) Offset() int { return (p.Page - 1) * p.PageSize }

// Pagination describes the page p selects out of total matches.
func (p Plan) Pagination(total int) Pagination {
	return Pagination{
		TotalCount:  total,
		TotalPages:  (total + p.PageSize - 1) / p.PageSize,
		CurrentPage: p.Page,
		PageSize:    p.PageSize,
	}
}

// Matches reports whether b passes the filters of p. Storage engines that
// cannot push filters down use it.
func (p Plan) Matches(b Book) bool {
	if p.Status != "" && b.Status != p.Status {
		return false
	}
	if p.Query == "" {
		return true
	}
	q := strings.ToLower(p.Query)
	return strings.Contains(strings.ToLower(b.Title), q) ||
		strings.Contains(strings.ToLower(b.Author), q) ||
		strings.Contains(strings.ToLower(b.Genre), q)
}

// Less orders books by the sort key, breaking ties on id ascending.
func (p Plan) Less(a, b Book) bool {
	var cmp int
	switch p.SortBy {
	case SortByTitle:
		cmp = strings.Compare(a.Title, b.Title)
	default:
		cmp = a.CreatedAt.Compare(b.CreatedAt)
	}
	if p.Desc {
		cmp = -cmp
	}
	if cmp != 0 {
		return cmp < 0
	}
	return a.ID < b.ID
}

// Apply filters, sorts and pages books in memory and returns the page with the
// total match count.
func (p Plan) Apply(books []Book) ([]Book, int) {
	matched := make([]Book, 0, len(books))
	for _, b := range books {
		if p.Matches(b) {
			matched = append(matched, b)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return p.Less(matched[i], matched[j]) })

	total := len(matched)
	start := p.Offset()
	if start >= total {
		return []Book{}, total
	}
	end := start + p.Limit()
	if end > total {
		end = total
	}
	return matched[start:end], total
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern builds a substring pattern for LIKE/ILIKE matching s literally.
func LikePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
