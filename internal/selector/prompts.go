package selector

const systemPrompt = `You are an expert medical scribe who organizes clinical documentation.`

// selectionPrompt takes the bulleted list of available keys and the dictation.
const selectionPrompt = `Choose the note template that best fits the dictated text.

AVAILABLE TEMPLATES:
%s

DICTATED TEXT:
---
%s
---

INSTRUCTIONS:
1. Pick exactly one key from the list above, or none if nothing fits.
2. Give a confidence between 0.0 and 1.0 for your choice.
3. Name the procedure or visit type in a few words.
4. Set "requires_dynamic" to true when no listed template fits.

OUTPUT FORMAT (JSON only, no markdown):
{"recommended_template": "key or empty", "confidence": 0.9, "reasoning": "one sentence", "requires_dynamic": false, "procedure_type": "colonoscopy"}`

// generationPrompt takes the procedure type and the dictation.
const generationPrompt = `Write a reusable clinical note layout for a %s from the dictated text below.

DICTATED TEXT:
---
%s
---

RULES:
1. Use section headings typical for this kind of note.
2. Put a placeholder wherever patient-specific content belongs. Placeholders are
   lowercase identifiers in single braces, letters, digits and underscores only,
   for example {indication} or {findings}.
3. Do not fill in any values from the dictation.
4. Output plain text only. No JSON, no markdown, no commentary.`
