package handlers

import (
	"errors"
	"fmt"
)

// ErrMissingInput reports absent image upload field
var ErrMissingInput = errors.New("No image provided")

const (
	GenericError      = iota + 100 // generic server error
	DatabaseError                  // 101 database error
	BadRequest                     // 102 bad request
	JSONMarshal                    // 103 json.Marshal error
	DecodeError                    // 104 image decode error
	InferenceError                 // 105 model inference error
	PersistenceError               // 106 prediction record write error
	MissingInputError              // 107 missing image field
	TooLargeError                  // 108 upload is too large
	TimeoutError                   // 109 prediction timeout
)

// helper function to return human error message for given server error code
func errorMessage(code int) string {
	switch code {
	case 0:
		return ""
	case GenericError:
		return "generic error"
	case DatabaseError:
		return "database error"
	case BadRequest:
		return "bad request"
	case JSONMarshal:
		return "JSON marshal error"
	case DecodeError:
		return "image decode error"
	case InferenceError:
		return "inference error"
	case PersistenceError:
		return "persistence error"
	case MissingInputError:
		return "missing input error"
	case TooLargeError:
		return "upload too large error"
	case TimeoutError:
		return "timeout error"
	}
	return fmt.Sprintf("Not Implemented error for code %d", code)
}
