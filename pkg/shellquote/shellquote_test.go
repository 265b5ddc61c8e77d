package shellquote_test

import (
	"testing"

	"tunegrab/pkg/shellquote"
)

func TestJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bin  string
		args []string
		want string
	}{
		{
			name: "no args",
			bin:  "/usr/bin/yt-dlp",
			args: nil,
			want: "/usr/bin/yt-dlp",
		},
		{
			name: "simple args stay bare",
			bin:  "/usr/bin/yt-dlp",
			args: []string{"--no-playlist", "-f", "bestaudio/best"},
			want: "/usr/bin/yt-dlp --no-playlist -f bestaudio/best",
		},
		{
			name: "format ladder is quoted",
			bin:  "yt-dlp",
			args: []string{"-f", "bestaudio[abr<=64]/best"},
			want: `yt-dlp -f "bestaudio[abr<=64]/best"`,
		},
		{
			name: "output template with spaces",
			bin:  "yt-dlp",
			args: []string{"-o", "/tmp/My Video %(ext)s"},
			want: `yt-dlp -o "/tmp/My Video %(ext)s"`,
		},
		{
			name: "url with query chars",
			bin:  "yt-dlp",
			args: []string{"https://youtube.com/watch?v=a&t=1"},
			want: `yt-dlp "https://youtube.com/watch?v=a&t=1"`,
		},
		{
			name: "special characters escaped",
			bin:  "yt-dlp",
			args: []string{`a"b$c` + "`d\\e"},
			want: `yt-dlp "a\"b\$c\` + "`" + `d\\e"`,
		},
		{
			name: "empty arg",
			bin:  "yt-dlp",
			args: []string{""},
			want: `yt-dlp ""`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := shellquote.Join(tc.bin, tc.args); got != tc.want {
				t.Errorf("Join() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestJoinMasked(t *testing.T) {
	t.Parallel()

	args := []string{"--proxy", "socks5h://user:pw@host:1080", "--cookies=/secret/cookies.txt", "-f", "best"}

	got := shellquote.JoinMasked("yt-dlp", args, "--proxy", "--cookies")
	want := "yt-dlp --proxy *** --cookies=*** -f best"

	if got != want {
		t.Errorf("JoinMasked() = %s, want %s", got, want)
	}
}
