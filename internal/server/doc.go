// Package server は、カメラ制御をHTTPで公開します。
//
// このパッケージは、UI層の代わりにカメラのオープン・設定変更・撮影を
// 呼び出す薄いアダプターです。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - カメラ操作のエンドポイント
//   - MJPEGによるプレビュー配信
//   - 保存済み画像の一覧と配信
//
// 仕様:
//   - ルーティングはgin
//   - マウントエラーは onMountError で受け取り、ステータスの lastError として返す
//   - プレビューは撮影を一定間隔で繰り返して作る
package server
