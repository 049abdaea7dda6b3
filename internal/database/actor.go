package database

import "context"

// setActorSQL устанавливает идентификатор пользователя в сессионную
// переменную app.current_user_id. Второй параметр — is_local:
// true ограничивает область видимости текущей транзакцией.
const setActorSQL = "SELECT set_config('app.current_user_id', $1, $2)"

type actorKey struct{}

// WithActor возвращает контекст с идентификатором пользователя, от имени
// которого выполняются запросы. Пустой id не сохраняется.
func WithActor(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, id)
}

// ActorFromContext извлекает идентификатор пользователя из контекста.
func ActorFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorKey{}).(string)
	return id, ok && id != ""
}
