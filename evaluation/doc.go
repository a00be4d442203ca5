// Package evaluation scores generation artifacts with an LLM judge.
//
// Every rubric criterion is judged by its own llm.complete call on a three
// point scale (0.0, 0.5, 1.0). The judge must answer with a JSON object whose
// rationale precedes the score; malformed answers are retried once with a
// stricter reminder and otherwise recorded as unscored rather than given a
// default number.
package evaluation
