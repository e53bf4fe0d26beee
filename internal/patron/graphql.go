package patron

import (
	"strings"

	"github.com/tidwall/gjson"
)

const titleOperation = "GetFetchTitleDetailQuery"

// titleQuery is a subset of the web client's title detail query.
const titleQuery = `query GetFetchTitleDetailQuery($id: ID!, $includeDeleted: Boolean, $showHolds: Boolean = true, $showMarketingText: Boolean = false) {
  title(criteria: {id: $id, includeDeleted: $includeDeleted}) {
    id
    title
    subtitle
    kind {
      name
    }
    mediaKey
    seconds
    licenseType
    circulation {
      id
      dueDate
      licenseType
      patron {
        id
      }
    }
    holdsPerCopy @include(if: $showHolds)
    marketingText @include(if: $showMarketingText)
  }
}`

type graphQLRequest struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Query         string         `json:"query"`
}

// GraphQLError carries the messages of a GraphQL errors array.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

// graphQLErrors returns a *GraphQLError when body has a non-empty errors array.
func graphQLErrors(body []byte) error {
	errs := gjson.GetBytes(body, "errors")
	if !errs.IsArray() || len(errs.Array()) == 0 {
		return nil
	}
	var msgs []string
	errs.ForEach(func(_, e gjson.Result) bool {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.Raw
		}
		msgs = append(msgs, msg)
		return true
	})
	return &GraphQLError{Messages: msgs}
}
