package types

import (
	"errors"
	"net/http"
)

// ErrorKind classifies rejections on the submission and challenge paths.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindTaskNotFound
	ErrorKindOperatorNotRegistered
	ErrorKindDuplicateSubmission
	ErrorKindSignatureInvalid
	ErrorKindAlreadyFinalized
	ErrorKindExternalDataUnavailable
	ErrorKindSubmissionFailed
	ErrorKindCalldataDecodeFailed
	ErrorKindMalformedRequest
)

var errorKindNames = map[ErrorKind]string{
	ErrorKindUnknown:                 "Unknown",
	ErrorKindTaskNotFound:            "TaskNotFound",
	ErrorKindOperatorNotRegistered:   "OperatorNotRegistered",
	ErrorKindDuplicateSubmission:     "DuplicateSubmission",
	ErrorKindSignatureInvalid:        "SignatureInvalid",
	ErrorKindAlreadyFinalized:        "AlreadyFinalized",
	ErrorKindExternalDataUnavailable: "ExternalDataUnavailable",
	ErrorKindSubmissionFailed:        "SubmissionFailed",
	ErrorKindCalldataDecodeFailed:    "CalldataDecodeFailed",
	ErrorKindMalformedRequest:        "MalformedRequest",
}

// operator facing messages, in the "<status>. <reason>" form clients already parse
var errorKindMessages = map[ErrorKind]string{
	ErrorKindUnknown:                 "500. Internal server error",
	ErrorKindTaskNotFound:            "400. Task not found",
	ErrorKindOperatorNotRegistered:   "400. Operator is not registered",
	ErrorKindDuplicateSubmission:     "400. Operator signature has already been processed",
	ErrorKindSignatureInvalid:        "400. Signature verification failed",
	ErrorKindAlreadyFinalized:        "400. Task response has already been aggregated",
	ErrorKindExternalDataUnavailable: "500. Failed to fetch operator or chain data",
	ErrorKindSubmissionFailed:        "500. Failed to execute transaction",
	ErrorKindCalldataDecodeFailed:    "500. Failed to parse task response",
	ErrorKindMalformedRequest:        "400. Malformed request",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return errorKindNames[ErrorKindUnknown]
}

func (k ErrorKind) Message() string {
	if msg, ok := errorKindMessages[k]; ok {
		return msg
	}
	return errorKindMessages[ErrorKindUnknown]
}

// StatusCode maps validation failures to 400 and infrastructure failures to 500.
func (k ErrorKind) StatusCode() int {
	switch k {
	case ErrorKindTaskNotFound,
		ErrorKindOperatorNotRegistered,
		ErrorKindDuplicateSubmission,
		ErrorKindSignatureInvalid,
		ErrorKindAlreadyFinalized,
		ErrorKindMalformedRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type kindedError interface {
	ErrorKind() ErrorKind
}

// KindOf returns the ErrorKind carried by err or any error it wraps, ErrorKindUnknown otherwise.
func KindOf(err error) ErrorKind {
	var ke kindedError
	if errors.As(err, &ke) {
		return ke.ErrorKind()
	}
	return ErrorKindUnknown
}
