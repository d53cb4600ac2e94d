package service

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/patrickwarner/civicreport/internal/geo"
	"github.com/patrickwarner/civicreport/internal/models"
)

// Field limits for report text.
const (
	maxTitleLen       = 200
	maxDescriptionLen = 5000
	maxAddressLen     = 500
	maxMediaURLs      = 10
)

// normalizedInput is a ReportInput that passed validation.
type normalizedInput struct {
	userID      string
	title       string
	description string
	category    models.Category
	priority    models.Priority
	department  string
	mediaURLs   []string
	audioURL    string
	lat, lng    float64
	address     string
}

func validateCreate(in models.ReportInput) (*normalizedInput, error) {
	verr := &models.ValidationError{}
	out := &normalizedInput{
		userID:      strings.TrimSpace(in.UserID),
		title:       strings.TrimSpace(in.Title),
		description: strings.TrimSpace(in.Description),
		department:  strings.TrimSpace(in.Department),
		audioURL:    strings.TrimSpace(in.AudioURL),
		address:     strings.TrimSpace(in.Address),
	}

	if out.userID == "" {
		verr.Add("userId", "is required")
	}

	switch c, ok := models.ParseCategory(in.Category); {
	case strings.TrimSpace(in.Category) == "":
		verr.Add("category", "is required")
	case !ok:
		verr.Add("category", "must be one of %s", joinCategories())
	default:
		out.category = c
	}

	switch p, ok := models.ParsePriority(in.Priority); {
	case strings.TrimSpace(in.Priority) == "":
		verr.Add("priority", "is required")
	case !ok:
		verr.Add("priority", "must be one of %s", joinPriorities())
	default:
		out.priority = p
	}

	if in.Latitude == nil {
		verr.Add("latitude", "is required")
	} else if !geo.ValidLatitude(*in.Latitude) {
		verr.Add("latitude", "must be between -90 and 90")
	} else {
		out.lat = *in.Latitude
	}
	if in.Longitude == nil {
		verr.Add("longitude", "is required")
	} else if !geo.ValidLongitude(*in.Longitude) {
		verr.Add("longitude", "must be between -180 and 180")
	} else {
		out.lng = *in.Longitude
	}

	if out.address == "" {
		verr.Add("address", "is required")
	}
	checkLength(verr, "title", out.title, maxTitleLen)
	checkLength(verr, "description", out.description, maxDescriptionLen)
	checkLength(verr, "address", out.address, maxAddressLen)

	out.mediaURLs = checkMediaURLs(verr, in.MediaURLs)
	if out.audioURL != "" && !validURL(out.audioURL) {
		verr.Add("audioUrl", "must be an absolute http(s) URL")
	}

	if err := verr.Err(); err != nil {
		return nil, err
	}

	if out.title == "" {
		out.title = out.category.Title() + " issue"
	}
	if out.department == "" {
		out.department = out.category.DefaultDepartment()
	}
	return out, nil
}

// validatePatch checks the fields present in p. It returns the parsed
// category and priority when those are set.
func validatePatch(p models.ReportPatch) (models.Category, models.Priority, error) {
	verr := &models.ValidationError{}
	for _, f := range p.ProtectedFields() {
		verr.Add(f, "cannot be updated")
	}

	if !patchHasChanges(p) && verr.Empty() {
		verr.Add("body", "no updatable fields provided")
	}

	var category models.Category
	if p.Category != nil {
		c, ok := models.ParseCategory(*p.Category)
		if !ok {
			verr.Add("category", "must be one of %s", joinCategories())
		}
		category = c
	}
	var priority models.Priority
	if p.Priority != nil {
		pr, ok := models.ParsePriority(*p.Priority)
		if !ok {
			verr.Add("priority", "must be one of %s", joinPriorities())
		}
		priority = pr
	}

	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			verr.Add("title", "must not be blank")
		}
		checkLength(verr, "title", *p.Title, maxTitleLen)
	}
	if p.Description != nil {
		checkLength(verr, "description", *p.Description, maxDescriptionLen)
	}
	if p.Address != nil {
		if strings.TrimSpace(*p.Address) == "" {
			verr.Add("address", "must not be blank")
		}
		checkLength(verr, "address", *p.Address, maxAddressLen)
	}
	if p.Department != nil && strings.TrimSpace(*p.Department) == "" {
		verr.Add("department", "must not be blank")
	}
	if p.Latitude != nil && !geo.ValidLatitude(*p.Latitude) {
		verr.Add("latitude", "must be between -90 and 90")
	}
	if p.Longitude != nil && !geo.ValidLongitude(*p.Longitude) {
		verr.Add("longitude", "must be between -180 and 180")
	}
	if p.MediaURLs != nil {
		checkMediaURLs(verr, *p.MediaURLs)
	}
	if p.AudioURL != nil {
		if a := strings.TrimSpace(*p.AudioURL); a != "" && !validURL(a) {
			verr.Add("audioUrl", "must be an absolute http(s) URL")
		}
	}
	return category, priority, verr.Err()
}

func patchHasChanges(p models.ReportPatch) bool {
	return p.Title != nil || p.Description != nil || p.Category != nil || p.Priority != nil ||
		p.Department != nil || p.MediaURLs != nil || p.AudioURL != nil ||
		p.Latitude != nil || p.Longitude != nil || p.Address != nil
}

// applyPatch copies the validated patch onto r. Changing the category
// without naming a department moves the report to the new category's
// default department.
func applyPatch(r *models.Report, p models.ReportPatch, category models.Category, priority models.Priority) {
	if p.Title != nil {
		r.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		r.Description = strings.TrimSpace(*p.Description)
	}
	if p.Category != nil {
		if category != r.Category && p.Department == nil {
			r.Department = category.DefaultDepartment()
		}
		r.Category = category
	}
	if p.Priority != nil {
		r.Priority = priority
	}
	if p.Department != nil {
		r.Department = strings.TrimSpace(*p.Department)
	}
	if p.MediaURLs != nil {
		r.MediaURLs = trimAll(*p.MediaURLs)
	}
	if p.AudioURL != nil {
		r.AudioURL = strings.TrimSpace(*p.AudioURL)
	}
	if p.Latitude != nil {
		v := *p.Latitude
		r.Latitude = &v
	}
	if p.Longitude != nil {
		v := *p.Longitude
		r.Longitude = &v
	}
	if p.Address != nil {
		r.Address = strings.TrimSpace(*p.Address)
	}
}

func checkLength(verr *models.ValidationError, field, v string, max int) {
	if utf8.RuneCountInString(v) > max {
		verr.Add(field, "must be at most %d characters", max)
	}
}

func checkMediaURLs(verr *models.ValidationError, urls []string) []string {
	out := trimAll(urls)
	if len(out) > maxMediaURLs {
		verr.Add("mediaUrls", "at most %d entries allowed", maxMediaURLs)
	}
	for i, u := range out {
		if !validURL(u) {
			verr.Add("mediaUrls", "entry %d is not an absolute http(s) URL", i)
		}
	}
	return out
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

func validURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func joinCategories() string {
	names := make([]string, 0, len(models.Categories()))
	for _, c := range models.Categories() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

func joinPriorities() string {
	names := make([]string, 0, len(models.Priorities()))
	for _, p := range models.Priorities() {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}
