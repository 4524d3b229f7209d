package compress

import "context"

// PrimaryEncoder is the library-backed encode path. It receives the encoded
// source and must honour the plan's dimensions and quality.
type PrimaryEncoder interface {
	Encode(ctx context.Context, src Source, format Format, plan Plan) (Candidate, error)
}
