package models

const (
	DefaultChunkSize      = 1000
	DefaultChunkOverlap   = 200
	DefaultTopK           = 5
	DefaultContextMatches = 3
	DefaultMinTextLength  = 10
	DefaultTemperature    = 0.1
	DefaultMaxTokens      = 5000
	ContextSeparator      = "\n\n"

	// metadata keys stored next to every vector
	MetaText       = "text"
	MetaDocumentID = "document_id"
	MetaPosition   = "position"
	MetaModel      = "embedding_model"
)

const NoRelevantInformationAnswer = "I couldn't find relevant information in the uploaded documents to answer your question. " +
	"Please try rephrasing your question or upload more relevant documents."

const SystemPrompt = "You are a helpful assistant that answers questions based on document context. " +
	"Always be accurate and only use information from the provided documents."

var (
	AnswerPromptTemplate = `You are a helpful assistant that answers questions based on the provided context from documents.

Context from documents:
%s

Question: %s

Instructions:
- Answer based ONLY on the provided context
- If the context doesn't contain enough information to answer the question, say "I don't know"
- Be concise but comprehensive
- Use the information from the documents to support your answer
- If asked about something not in the context, politely explain that you don't have that information

Answer:`
)
