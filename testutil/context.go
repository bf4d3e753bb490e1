package testutil

import "context"

func contextWithEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userKey{}, email)
}

func emailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(userKey{}).(string)
	return email
}
