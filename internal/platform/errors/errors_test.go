package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCodeMappings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code Code
		grpc codes.Code
		http int
	}{
		{CodeNotFound, codes.NotFound, http.StatusNotFound},
		{CodeUnauthorized, codes.PermissionDenied, http.StatusForbidden},
		{CodeInvalidEntity, codes.InvalidArgument, http.StatusUnprocessableEntity},
		{CodeInvalidShape, codes.InvalidArgument, http.StatusBadRequest},
		{CodeUnimplemented, codes.Unimplemented, http.StatusNotImplemented},
		{CodeInvalidOperation, codes.FailedPrecondition, http.StatusConflict},
		{CodeUnknown, codes.Internal, http.StatusInternalServerError},
		{Code("SOMETHING_ELSE"), codes.Internal, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			t.Parallel()
			if got := tc.code.GRPCCode(); got != tc.grpc {
				t.Fatalf("GRPCCode() = %v, want %v", got, tc.grpc)
			}
			if got := tc.code.HTTPStatus(); got != tc.http {
				t.Fatalf("HTTPStatus() = %d, want %d", got, tc.http)
			}
		})
	}
}

func TestIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("load: %w", WithMetadata(CodeNotFound, "entity missing", map[string]string{"Resource": "Tag"}))
	if !stderrors.Is(err, ErrNotFound) {
		t.Fatal("expected wrapped error to match ErrNotFound")
	}
	if stderrors.Is(err, ErrUnauthorized) {
		t.Fatal("did not expect match with ErrUnauthorized")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("disk full")
	err := Wrap(CodeUnknown, "insert entity", cause)
	if err.Error() != "insert entity: disk full" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("expected Unwrap to expose cause")
	}
	if got := New(CodeNotFound, "missing").Error(); got != "missing" {
		t.Fatalf("Error() = %q, want %q", got, "missing")
	}
}

func TestCodeOfAndAs(t *testing.T) {
	t.Parallel()

	if got := CodeOf(nil); got != "" {
		t.Fatalf("CodeOf(nil) = %q, want empty", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %q, want %q", got, CodeUnknown)
	}
	if got := CodeOf(fmt.Errorf("x: %w", ErrInvalidShape)); got != CodeInvalidShape {
		t.Fatalf("CodeOf(wrapped) = %q, want %q", got, CodeInvalidShape)
	}
	if As(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
	if got := As(stderrors.New("boom")); got.Code != CodeUnknown {
		t.Fatalf("As(plain).Code = %q, want %q", got.Code, CodeUnknown)
	}
	if got := Errorf(CodeNotFound, "collection %q", "tags"); got.Message != `collection "tags"` {
		t.Fatalf("Errorf message = %q", got.Message)
	}
}

func TestToGRPCStatusAttachesDetails(t *testing.T) {
	t.Parallel()

	err := WithMetadata(CodeUnauthorized, "delete denied", map[string]string{"Operation": "delete"})
	st, ok := status.FromError(err.ToGRPCStatus("en-US", "You are not allowed to delete here."))
	if !ok {
		t.Fatal("expected grpc status")
	}
	if st.Code() != codes.PermissionDenied {
		t.Fatalf("code = %v, want %v", st.Code(), codes.PermissionDenied)
	}

	var info *errdetails.ErrorInfo
	var localized *errdetails.LocalizedMessage
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.ErrorInfo:
			info = d
		case *errdetails.LocalizedMessage:
			localized = d
		}
	}
	if info == nil || info.Reason != string(CodeUnauthorized) || info.Domain != Domain {
		t.Fatalf("unexpected error info: %+v", info)
	}
	if info.Metadata["Operation"] != "delete" {
		t.Fatalf("metadata = %v", info.Metadata)
	}
	if localized == nil || localized.Locale != "en-US" {
		t.Fatalf("unexpected localized message: %+v", localized)
	}
}
