package connect

import "context"

// CheckCodePrompt is the external input-dialog collaborator named in
// §4.3.3. If nil, the flow fails with ErrKindCancelled whenever a check
// code is required but none of the other sources supplied one.
type CheckCodePrompt func(ctx context.Context, identity PromptIdentity) (string, bool)

// PromptIdentity is the minimal identity info shown to a check-code prompt.
type PromptIdentity struct {
	Name         string
	SerialNumber string
	IPAddress    string
}

// resolveCheckCode implements §4.3.3's ordered lookup: explicit argument,
// then a previously stored check code, then the prompt collaborator.
func resolveCheckCode(ctx context.Context, explicit, stored string, prompt CheckCodePrompt, identity PromptIdentity) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if stored != "" {
		return stored, nil
	}
	if prompt == nil {
		return "", newConnErr(ErrKindCancelled, nil)
	}
	code, ok := prompt(ctx, identity)
	if !ok || code == "" {
		return "", newConnErr(ErrKindCancelled, nil)
	}
	return code, nil
}
