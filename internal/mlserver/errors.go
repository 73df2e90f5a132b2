package mlserver

import "fmt"

const (
	DatabaseError      = iota + 101 // 101 database error
	BadRequest                      // 102 bad request
	JsonMarshal                     // 103 json.Marshal error
	RevisionError                   // 104 revision is not served
	MachineError                    // 105 unknown machine
	FileIOError                     // 106 file IO error
	PredictionError                 // 107 prediction error
	UnsupportedRequest              // 108 machine does not support request
	ProjectError                    // 109 unknown project
)

var errorMessages = map[int]string{
	DatabaseError:      "database error",
	BadRequest:         "bad request",
	JsonMarshal:        "JSON marshal error",
	RevisionError:      "revision error",
	MachineError:       "machine error",
	FileIOError:        "file IO error",
	PredictionError:    "prediction error",
	UnsupportedRequest: "unsupported request",
	ProjectError:       "project error",
}

// helper function to return human error message for given server error code
func errorMessage(code int) string {
	if code == 0 {
		return ""
	}
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("Not Implemented error for code %d", code)
}
