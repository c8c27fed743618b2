package notegen

import (
	"strings"
)

func namePrompt(transcript, additionalContext string) string {
	var b strings.Builder
	b.WriteString("What is the patient's name? Below are the visit transcript and any additional context.\n\n")
	b.WriteString("<transcript>\n")
	b.WriteString(transcript)
	b.WriteString("\n</transcript>\n\n<context>\n")
	b.WriteString(additionalContext)
	b.WriteString("\n</context>\n\n")
	b.WriteString("Reply with the name only. No sentence, no punctuation around it, no commentary. ")
	b.WriteString("Good reply: John Doe. Bad reply: The patient's name is John Doe.")
	return b.String()
}

func notePrompt(req NoteRequest) string {
	specialty := strings.TrimSpace(req.Specialty)
	if specialty == "" {
		specialty = "general medicine"
	}

	var b strings.Builder
	b.WriteString("You are a medical scribe for a clinician practicing ")
	b.WriteString(specialty)
	b.WriteString(". Write the clinical note for the visit below.\n\n")

	b.WriteString("Follow these template instructions exactly:\n<template>\n")
	b.WriteString(req.Instructions)
	b.WriteString("\n</template>\n\n")

	b.WriteString("Visit transcript, one utterance per line prefixed with its time:\n<transcript>\n")
	b.WriteString(req.Transcript)
	b.WriteString("\n</transcript>\n\n")

	if strings.TrimSpace(req.Context) != "" {
		b.WriteString("Additional context provided by the clinician:\n<context>\n")
		b.WriteString(req.Context)
		b.WriteString("\n</context>\n\n")
	}

	b.WriteString("Only state facts supported by the transcript or context. ")
	b.WriteString("Output the note itself with no preamble.")
	return b.String()
}
