package patron

import (
	"encoding/json"
	"fmt"
	"strconv"

	"dashprobe/internal/media"
)

// ID is an identifier the API sends as either a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number, got %s", b)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id must be an integer, got %s", n)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// tokenResponse is the body of POST /core/tokens.
type tokenResponse struct {
	TokenStatus string `json:"tokenStatus"`
	Token       string `json:"token"`
}

func (r tokenResponse) validate() error {
	if r.TokenStatus != "SUCCESS" {
		status := r.TokenStatus
		if status == "" {
			status = "missing"
		}
		return fmt.Errorf("%w: token status %s", ErrLoginRejected, status)
	}
	if r.Token == "" {
		return fmt.Errorf("%w: empty token", ErrLoginRejected)
	}
	return nil
}

// userResponse is the body of GET /core/user.
type userResponse struct {
	ID        ID     `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Patrons   []struct {
		ID          ID     `json:"id"`
		LibraryID   ID     `json:"libraryId"`
		LibraryName string `json:"libraryName"`
	} `json:"patrons"`
}

func (r userResponse) patron() (media.Patron, error) {
	p := media.Patron{
		ID:        r.ID.String(),
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
	}
	// The account ID and the patron ID differ; license calls need the latter.
	if len(r.Patrons) > 0 {
		if r.Patrons[0].ID != "" {
			p.ID = r.Patrons[0].ID.String()
		}
		p.LibraryID = r.Patrons[0].LibraryID.String()
		p.Library = r.Patrons[0].LibraryName
	}
	if p.ID == "" {
		return media.Patron{}, fmt.Errorf("%w: user has no id", ErrBadResponse)
	}
	return p, nil
}

// borrowedItem is one element of GET /core/borrowed.
type borrowedItem struct {
	ID       ID     `json:"id"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Kind     struct {
		Name string `json:"name"`
	} `json:"kind"`
	Contents []struct {
		ID          ID     `json:"id"`
		MediaKey    string `json:"mediaKey"`
		CircID      ID     `json:"circId"`
		Due         int64  `json:"due"`
		Seconds     int    `json:"seconds"`
		LicenseType string `json:"licenseType"`
		PatronID    ID     `json:"patronId"`
	} `json:"contents"`
}

func (b borrowedItem) title() (media.Title, error) {
	if b.ID == "" {
		return media.Title{}, fmt.Errorf("%w: borrowed item has no id", ErrBadResponse)
	}
	t := media.Title{
		ID:       b.ID.String(),
		Title:    b.Title,
		Subtitle: b.Subtitle,
		Kind:     b.Kind.Name,
	}
	if len(b.Contents) > 0 {
		c := b.Contents[0]
		t.MediaKey = c.MediaKey
		t.Seconds = c.Seconds
		t.LicenseType = c.LicenseType
		if c.CircID != "" {
			t.Circulation = &media.Circulation{
				ID:       c.CircID.String(),
				DueDate:  c.Due,
				PatronID: c.PatronID.String(),
			}
		}
	}
	return t, nil
}

// graphQLTitle mirrors the fields requested by titleQuery.
type graphQLTitle struct {
	ID       ID     `json:"id"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Kind     struct {
		Name string `json:"name"`
	} `json:"kind"`
	MediaKey    string `json:"mediaKey"`
	Seconds     int    `json:"seconds"`
	LicenseType string `json:"licenseType"`
	Circulation *struct {
		ID      ID    `json:"id"`
		DueDate int64 `json:"dueDate"`
		Patron  struct {
			ID ID `json:"id"`
		} `json:"patron"`
	} `json:"circulation"`
}

func (g graphQLTitle) title() (media.Title, error) {
	if g.ID == "" {
		return media.Title{}, fmt.Errorf("%w: title has no id", ErrBadResponse)
	}
	t := media.Title{
		ID:          g.ID.String(),
		Title:       g.Title,
		Subtitle:    g.Subtitle,
		Kind:        g.Kind.Name,
		MediaKey:    g.MediaKey,
		Seconds:     g.Seconds,
		LicenseType: g.LicenseType,
	}
	if g.Circulation != nil && g.Circulation.ID != "" {
		t.Circulation = &media.Circulation{
			ID:       g.Circulation.ID.String(),
			DueDate:  g.Circulation.DueDate,
			PatronID: g.Circulation.Patron.ID.String(),
		}
	}
	return t, nil
}

// Account is the signed-in user with the raw response kept for archiving.
type Account struct {
	Patron media.Patron
	Raw    json.RawMessage
}

// BorrowedList is the patron's current loans.
type BorrowedList struct {
	Titles []media.Title
	Raw    json.RawMessage
}

// TitleDetail is a single catalog title.
type TitleDetail struct {
	Title media.Title
	Raw   json.RawMessage
}

// LicenseRequest names the loan a license token is requested for.
type LicenseRequest struct {
	MediaKey string
	PatronID string
	CircID   string
}

// LicenseRequestFor builds a LicenseRequest from a borrowed title.
func LicenseRequestFor(t media.Title, patronID string) (LicenseRequest, error) {
	if t.MediaKey == "" {
		return LicenseRequest{}, fmt.Errorf("title %s has no media key", t.ID)
	}
	if t.Circulation == nil || t.Circulation.ID == "" {
		return LicenseRequest{}, fmt.Errorf("title %s is not borrowed", t.ID)
	}
	if t.Circulation.PatronID != "" {
		patronID = t.Circulation.PatronID
	}
	return LicenseRequest{MediaKey: t.MediaKey, PatronID: patronID, CircID: t.Circulation.ID}, nil
}
