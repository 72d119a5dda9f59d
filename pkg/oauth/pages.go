// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"html/template"
	"net/http"
)

// completionPage is the data for the popup completion document
type completionPage struct {
	MessageType string
	AccountID   string
	FallbackURL string
}

var completionTemplate = template.Must(template.New("completion").Parse(completionPageTemplate))

// CompletionMessageType returns the postMessage type for a platform,
// e.g. "tiktok-auth-success".
func CompletionMessageType(platform string) string {
	return platform + "-auth-success"
}

// RenderCompletionPage writes the document served to an OAuth popup once the
// account is connected. It notifies the opener window and closes itself, or
// navigates to fallbackURL when there is no opener.
func RenderCompletionPage(w http.ResponseWriter, platform, accountID, fallbackURL string) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	return completionTemplate.Execute(w, completionPage{
		MessageType: CompletionMessageType(platform),
		AccountID:   accountID,
		FallbackURL: fallbackURL,
	})
}

// html/template escapes the values below for their JS string context
const completionPageTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>Authentication Successful</title>
    <style>
        body {
            font-family: "Ubuntu", -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background: linear-gradient(135deg, #b24202 0%, #e5790d 100%);
        }
        .container {
            background: white;
            padding: 3rem;
            border-radius: 10px;
            box-shadow: 0 10px 40px rgba(0,0,0,0.5);
            text-align: center;
            max-width: 400px;
        }
        h1 { color: #333; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Account connected</h1>
        <p>Redirecting...</p>
    </div>
    <script>
        (function () {
            var message = { type: {{.MessageType}}, accountId: {{.AccountID}} };
            if (window.opener) {
                window.opener.postMessage(message, window.location.origin);
                window.close();
            } else {
                window.location.href = {{.FallbackURL}};
            }
        })();
    </script>
</body>
</html>`
