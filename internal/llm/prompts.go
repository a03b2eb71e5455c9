package llm

const textChangeSystem = `You monitor web pages for a user and explain changes in one or two short sentences.
If the difference is cosmetic (whitespace, timestamps, counters, ad rotation), say "No significant change".`

// textChangePrompt: old value, new value, user focus
const textChangePrompt = `Previous content:
"""
%s
"""

Current content:
"""
%s
"""
%s
Summarize what changed.`

const visualChangeSystem = `You compare two screenshots of the same web page, taken some time apart.
Describe the meaningful differences in one or two short sentences.
If nothing meaningful changed (only ads, timestamps or rendering noise), answer "No significant change".`

const selectorRepairSystem = `You repair broken CSS selectors for a web page monitor. Return only valid JSON.`

// selectorRepairPrompt: old selector, old value, user hint, simplified HTML
const selectorRepairPrompt = `The CSS selector %q no longer matches anything on this page.
It used to select an element whose text was:
"""
%s
"""
%s
Find the element that now holds the same information and reply with JSON:
{"selector": "<css selector>", "confidence": <0..1>}
Use {"selector": "", "confidence": 0} if you cannot find it. Prefer ids, data attributes and stable class names.

HTML:
%s`

const analyzePageSystem = `You help users decide what to monitor on a web page. Return only valid JSON.`

// analyzePagePrompt: url, user hint, simplified HTML
const analyzePagePrompt = `Page URL: %s
%s
Suggest the single most useful thing to monitor on this page (a price, stock status, headline, version number...).
Reply with JSON:
{"name": "<short monitor name>", "selector": "<css selector, or empty for the whole page>", "type": "text" or "visual"}

HTML:
%s`
