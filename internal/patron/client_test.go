package patron

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dashprobe/internal/media"
	"dashprobe/internal/session"
)

const testToken = "patron-token"

// newTestServer serves a minimal gateway. Authenticated routes require the
// bearer token issued by /core/tokens.
func newTestServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/core/tokens", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("ws-api") != "2.1" || r.Header.Get("app") != "WWW" {
			http.Error(w, "missing client headers", http.StatusBadRequest)
			return
		}
		r.ParseForm()
		switch {
		case r.PostForm.Get("password") == "refused":
			w.WriteHeader(http.StatusUnauthorized)
		case r.PostForm.Get("username") == "reader" && r.PostForm.Get("password") == "secret":
			io.WriteString(w, `{"tokenStatus":"SUCCESS","token":"`+testToken+`"}`)
		case r.PostForm.Get("username") == "empty":
			io.WriteString(w, `{"tokenStatus":"SUCCESS","token":""}`)
		default:
			io.WriteString(w, `{"tokenStatus":"INVALID_PASSWORD"}`)
		}
	})
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+testToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/core/user", auth(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":991,"email":"reader@example.com","firstName":"Ada","lastName":"Reader",
			"patrons":[{"id":"13914483","libraryId":77,"libraryName":"Springfield Public"}]}`)
	}))
	mux.HandleFunc("/core/borrowed", auth(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"id":12345,"title":"The Long Road","kind":{"name":"AUDIOBOOK"},
			 "contents":[{"id":1,"mediaKey":"MWT_12345","circId":"555","due":1760000000000,"seconds":3600,"licenseType":"PPU","patronId":13914483}]},
			{"id":"678","title":"Short Film","kind":{"name":"MOVIE"},"contents":[]}
		]`)
	}))
	mux.HandleFunc("/graphql", auth(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.OperationName != titleOperation || r.Header.Get("apollographql-client-name") == "" {
			http.Error(w, "bad operation", http.StatusBadRequest)
			return
		}
		switch req.Variables["id"] {
		case "12345":
			io.WriteString(w, `{"data":{"title":{"id":"12345","title":"The Long Road","subtitle":"Unabridged",
				"kind":{"name":"AUDIOBOOK"},"mediaKey":"MWT_12345","seconds":3600,"licenseType":"PPU",
				"circulation":{"id":555,"dueDate":1760000000000,"patron":{"id":"13914483"}}}}}`)
		case "404":
			io.WriteString(w, `{"data":{"title":null}}`)
		default:
			io.WriteString(w, `{"data":null,"errors":[{"message":"Title not available"},{"message":"second"}]}`)
		}
	}))
	mux.HandleFunc("/license/", auth(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/license/MWT_12345/13914483/555" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"token":"eyJhbGciOiJIUzI1NiJ9.eyJleHAiOjF9.c2ln"}`)
	}))

	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)

	c := New(srv.Client(), srv.URL).WithLicenseURL(srv.URL + "/license/{mediaKey}/{patronId}/{circId}")
	return srv, c
}

func login(t *testing.T, c *Client) session.Session {
	t.Helper()
	sess, err := c.Login(context.Background(), Credentials{Username: "reader", Password: "secret"})
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	return sess
}

func TestLogin(t *testing.T) {
	_, c := newTestServer(t)

	sess := login(t, c)
	if sess.Token != testToken {
		t.Errorf("token = %q", sess.Token)
	}
	if sess.State(time.Now()) != session.Active {
		t.Errorf("state = %s, want active", sess.State(time.Now()))
	}
}

func TestLoginRejected(t *testing.T) {
	_, c := newTestServer(t)

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"wrong password", Credentials{Username: "reader", Password: "nope"}},
		{"empty token", Credentials{Username: "empty", Password: "x"}},
		{"unauthorized", Credentials{Username: "reader", Password: "refused"}},
		{"missing password", Credentials{Username: "reader"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Login(context.Background(), tt.creds)
			if !errors.Is(err, ErrLoginRejected) {
				t.Errorf("Login() error = %v, want ErrLoginRejected", err)
			}
		})
	}
}

func TestUser(t *testing.T) {
	_, c := newTestServer(t)
	sess := login(t, c)

	acct, err := c.User(context.Background(), sess)
	if err != nil {
		t.Fatalf("User() error: %v", err)
	}
	want := media.Patron{
		ID:        "13914483",
		Email:     "reader@example.com",
		FirstName: "Ada",
		LastName:  "Reader",
		LibraryID: "77",
		Library:   "Springfield Public",
	}
	if acct.Patron != want {
		t.Errorf("patron = %+v, want %+v", acct.Patron, want)
	}
	if !json.Valid(acct.Raw) {
		t.Error("raw response is not valid JSON")
	}
}

func TestBorrowed(t *testing.T) {
	_, c := newTestServer(t)
	sess := login(t, c)

	list, err := c.Borrowed(context.Background(), sess)
	if err != nil {
		t.Fatalf("Borrowed() error: %v", err)
	}
	if len(list.Titles) != 2 {
		t.Fatalf("titles = %d, want 2", len(list.Titles))
	}

	first := list.Titles[0]
	if first.ID != "12345" || first.MediaKey != "MWT_12345" || first.Kind != "AUDIOBOOK" {
		t.Errorf("first = %+v", first)
	}
	if first.Circulation == nil || first.Circulation.ID != "555" || first.Circulation.PatronID != "13914483" {
		t.Errorf("circulation = %+v", first.Circulation)
	}
	if list.Titles[1].ID != "678" || list.Titles[1].Circulation != nil {
		t.Errorf("second = %+v", list.Titles[1])
	}
}

func TestTitle(t *testing.T) {
	_, c := newTestServer(t)
	sess := login(t, c)

	detail, err := c.Title(context.Background(), sess, "12345")
	if err != nil {
		t.Fatalf("Title() error: %v", err)
	}
	if detail.Title.Subtitle != "Unabridged" || detail.Title.Seconds != 3600 {
		t.Errorf("title = %+v", detail.Title)
	}
	if detail.Title.Circulation == nil || detail.Title.Circulation.DueDate != 1760000000000 {
		t.Errorf("circulation = %+v", detail.Title.Circulation)
	}
}

func TestTitleErrors(t *testing.T) {
	_, c := newTestServer(t)
	sess := login(t, c)
	ctx := context.Background()

	if _, err := c.Title(ctx, sess, "404"); !errors.Is(err, ErrTitleNotFound) {
		t.Errorf("null title error = %v, want ErrTitleNotFound", err)
	}

	_, err := c.Title(ctx, sess, "999")
	var gqlErr *GraphQLError
	if !errors.As(err, &gqlErr) {
		t.Fatalf("error = %v, want *GraphQLError", err)
	}
	if len(gqlErr.Messages) != 2 || gqlErr.Messages[0] != "Title not available" {
		t.Errorf("messages = %v", gqlErr.Messages)
	}

	if _, err := c.Title(ctx, sess, "12;drop"); err == nil {
		t.Error("expected error for non-numeric id")
	}
}

func TestLicenseToken(t *testing.T) {
	_, c := newTestServer(t)
	sess := login(t, c)
	ctx := context.Background()

	list, err := c.Borrowed(ctx, sess)
	if err != nil {
		t.Fatalf("Borrowed() error: %v", err)
	}
	lr, err := LicenseRequestFor(list.Titles[0], "")
	if err != nil {
		t.Fatalf("LicenseRequestFor() error: %v", err)
	}

	token, err := c.LicenseToken(ctx, sess, lr)
	if err != nil {
		t.Fatalf("LicenseToken() error: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("token = %q, want a JWT", token)
	}

	if _, err := LicenseRequestFor(list.Titles[1], "1"); err == nil {
		t.Error("expected error for title without a loan")
	}
	if _, err := c.LicenseToken(ctx, sess, LicenseRequest{MediaKey: "../x", PatronID: "1", CircID: "2"}); err == nil {
		t.Error("expected error for traversal media key")
	}
}

func TestSessionRequired(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	if _, err := c.User(ctx, session.New()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("anonymous error = %v, want ErrNotAuthenticated", err)
	}

	sess := login(t, c)
	c.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	if _, err := c.Borrowed(ctx, sess); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expired error = %v, want ErrSessionExpired", err)
	}

	c.now = time.Now
	stale := session.New().SignedIn("revoked", time.Now(), time.Hour)
	if _, err := c.User(ctx, stale); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("401 error = %v, want ErrSessionExpired", err)
	}
}

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		input   string
		want    ID
		wantErr bool
	}{
		{`"abc"`, "abc", false},
		{`12345`, "12345", false},
		{`null`, "", false},
		{`1.5`, "", true},
		{`true`, "", true},
		{`{}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var id ID
			err := json.Unmarshal([]byte(tt.input), &id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && id != tt.want {
				t.Errorf("Unmarshal(%s) = %q, want %q", tt.input, id, tt.want)
			}
		})
	}
}
