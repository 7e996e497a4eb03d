package driven

import "context"

// LogoResolver maps a website to a display logo URL. Resolve never fails: any
// lookup problem degrades to a generated placeholder URL.
type LogoResolver interface {
	Resolve(ctx context.Context, website string) string
}
