package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnknown          = "UNKNOWN"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInvalidEntity    = "INVALID_ENTITY"
	CodeInvalidShape     = "INVALID_SHAPE"
	CodeUnimplemented    = "UNIMPLEMENTED"
	CodeInvalidOperation = "INVALID_OPERATION"
)

var enUSMessages = map[Code]string{
	CodeUnknown:          "Something went wrong.",
	CodeNotFound:         "{{if .Resource}}{{.Resource}} {{end}}not found.",
	CodeUnauthorized:     "You are not allowed to {{if .Operation}}{{.Operation}} {{else}}do that {{end}}here.",
	CodeInvalidEntity:    "Please fix the highlighted fields and try again.",
	CodeInvalidShape:     "The related items could not be read.",
	CodeUnimplemented:    "This action is not available here.",
	CodeInvalidOperation: "This button is not configured correctly.",
}

var ptBRMessages = map[Code]string{
	CodeUnknown:          "Algo deu errado.",
	CodeNotFound:         "{{if .Resource}}{{.Resource}} {{end}}não encontrado.",
	CodeUnauthorized:     "Você não tem permissão para {{if .Operation}}{{.Operation}}{{else}}isso{{end}} aqui.",
	CodeInvalidEntity:    "Corrija os campos destacados e tente novamente.",
	CodeInvalidShape:     "Não foi possível ler os itens relacionados.",
	CodeUnimplemented:    "Esta ação não está disponível aqui.",
	CodeInvalidOperation: "Este botão não está configurado corretamente.",
}
